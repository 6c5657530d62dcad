package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkJob      = "JOB#"
	pkLocation = "LOCATION#"
	pkFile     = "FILE#"

	skMeta        = "META"
	skJob         = "JOB"
	skDisposition = "DISPOSITION"
)

// dynamoAPI is the subset of *dynamodb.Client the store uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements JobStore and DispositionStore using AWS DynamoDB.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface checks.
var (
	_ JobStore         = (*DynamoStore)(nil)
	_ DispositionStore = (*DynamoStore)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// TableName returns the backing table.
func (s *DynamoStore) TableName() string { return s.tableName }

// --- Internal helpers ---

func jobPK(name string) string { return pkJob + name }

func locationPK(location string) string { return pkLocation + location }

func filePK(container, name string) string { return pkFile + container + "/" + name }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// putItem marshals a domain object and writes it with PK, SK, and TTL.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       key(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// --- Job operations ---

type locationIndex struct {
	Job string `dynamodbav:"job"`
}

// PutJob writes the job record and, when the job has a location, the
// location index item used by provider callbacks.
func (s *DynamoStore) PutJob(ctx context.Context, job *JobRecord) error {
	if job.SubmittedAt == 0 {
		job.SubmittedAt = s.now().Unix()
	}
	if err := s.putItem(ctx, jobPK(job.Name), skMeta, job, JobTTL); err != nil {
		return fmt.Errorf("put job %s: %w", job.Name, err)
	}
	if job.Location != "" {
		if err := s.putItem(ctx, locationPK(job.Location), skJob, locationIndex{Job: job.Name}, JobTTL); err != nil {
			return fmt.Errorf("put job location %s: %w", job.Name, err)
		}
	}

	log.Debug().Str("job", job.Name).Str("status", job.Status).Str("endpoint", job.Endpoint).
		Int("files", len(job.Files)).Msg("Job persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, name string) (*JobRecord, error) {
	var job JobRecord
	found, err := s.getItem(ctx, jobPK(name), skMeta, &job)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", name, err)
	}
	if !found {
		return nil, nil
	}
	job.Name = name
	return &job, nil
}

func (s *DynamoStore) UpdateJobStatusByLocation(ctx context.Context, location, status, errMsg string) (string, error) {
	var idx locationIndex
	found, err := s.getItem(ctx, locationPK(location), skJob, &idx)
	if err != nil {
		return "", fmt.Errorf("lookup job location: %w", err)
	}
	if !found || idx.Job == "" {
		return "", nil
	}

	expr := "SET #s = :s, updatedAt = :u"
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: status},
		":u": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
	}
	if errMsg != "" {
		expr += ", #e = :e"
		values[":e"] = &types.AttributeValueMemberS{Value: errMsg}
	}
	names := map[string]string{"#s": "status"} // "status" is a DynamoDB reserved word
	if errMsg != "" {
		names["#e"] = "error"
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(jobPK(idx.Job), skMeta),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return "", fmt.Errorf("update job status %s -> %s: %w", idx.Job, status, err)
	}

	log.Debug().Str("job", idx.Job).Str("status", status).Msg("Job status updated")
	return idx.Job, nil
}

// --- Disposition operations ---

func (s *DynamoStore) GetDisposition(ctx context.Context, container, name string) (*Disposition, error) {
	var d Disposition
	found, err := s.getItem(ctx, filePK(container, name), skDisposition, &d)
	if err != nil {
		return nil, fmt.Errorf("get disposition %s/%s: %w", container, name, err)
	}
	if !found {
		return nil, nil
	}
	d.Container = container
	d.Name = name
	return &d, nil
}

func (s *DynamoStore) PutDisposition(ctx context.Context, d *Disposition) error {
	if d.RecordedAt == 0 {
		d.RecordedAt = s.now().Unix()
	}
	if err := s.putItem(ctx, filePK(d.Container, d.Name), skDisposition, d, DispositionTTL); err != nil {
		return fmt.Errorf("put disposition %s/%s: %w", d.Container, d.Name, err)
	}
	log.Debug().Str("container", d.Container).Str("file", d.Name).Str("outcome", d.Outcome).
		Msg("Disposition recorded")
	return nil
}
