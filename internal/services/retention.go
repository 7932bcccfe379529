package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	appconfig "couple-sync-backend/internal/config"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// archiveBatchSize bounds one sweep so a backlog never holds a connection
// for minutes.
const archiveBatchSize = 100

// ArchiveStore is the slice of the activity repository retention needs.
type ArchiveStore interface {
	ListOlderThan(ctx context.Context, cutoffDateKey string, limit int) ([]*models.ActivitySet, error)
	Delete(ctx context.Context, setID string) error
}

// ObjectStore is the slice of the S3 client retention needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RetentionService archives expired activity sets to S3 and deletes them
// together with their completion records. Reward awards are retained
// indefinitely; they are the balance's source of truth.
type RetentionService struct {
	activities    ArchiveStore
	completions   CompletionStore
	objects       ObjectStore
	bucket        string
	retentionDays int
	interval      time.Duration
}

// archivedSet is the JSON document written to the archive bucket.
type archivedSet struct {
	Set         *models.ActivitySet        `json:"set"`
	Completions []*models.CompletionRecord `json:"completions"`
	ArchivedAt  time.Time                  `json:"archived_at"`
}

// NewRetentionService creates a new retention service
func NewRetentionService(
	activities *repository.ActivityRepository,
	completions *repository.CompletionRepository,
	awsCfg appconfig.AWSConfig,
	syncCfg appconfig.SyncConfig,
) (*RetentionService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(awsCfg.Region),
	}
	if awsCfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsCfg.AccessKey, awsCfg.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if awsCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(awsCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &RetentionService{
		activities:    activities,
		completions:   completions,
		objects:       client,
		bucket:        awsCfg.ArchiveBucket,
		retentionDays: syncCfg.RetentionDays,
		interval:      syncCfg.RetentionInterval,
	}, nil
}

// Run sweeps periodically until ctx is cancelled.
func (r *RetentionService) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

// Sweep archives and deletes activity sets older than the retention window.
func (r *RetentionService) Sweep(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -r.retentionDays).Format("2006-01-02")

	sets, err := r.activities.ListOlderThan(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return err
	}

	archived := 0
	for _, set := range sets {
		completions, err := r.completions.GetBySet(ctx, set.ID)
		if err != nil {
			return err
		}
		if err := r.archive(ctx, set, completions); err != nil {
			// Leave the set in place; the next sweep retries.
			log.Error().Err(err).Str("set_id", set.ID).Msg("Failed to archive activity set")
			continue
		}
		if err := r.activities.Delete(ctx, set.ID); err != nil {
			return err
		}
		archived++
	}

	if len(sets) > 0 {
		log.Info().
			Int("archived", archived).
			Int("pending", len(sets)-archived).
			Str("cutoff", cutoff).
			Msg("Retention sweep complete")
	}
	return nil
}

// archive writes the set and its completions as one JSON object.
func (r *RetentionService) archive(ctx context.Context, set *models.ActivitySet, completions []*models.CompletionRecord) error {
	doc := archivedSet{
		Set:         set,
		Completions: completions,
		ArchivedAt:  time.Now(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal archive document: %w", err)
	}

	key := fmt.Sprintf("activity-sets/%s/%s.json", set.CoupleID, set.DateKey)
	_, err = r.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive object: %w", err)
	}
	return nil
}
