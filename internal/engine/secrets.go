package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type storedSecret struct {
	arn       string
	value     string
	versionID string
	created   time.Time
}

// SecretStore is an in-memory Secrets Manager. Values are write-once: a name
// can only be created again after it has been deleted.
type SecretStore struct {
	region  string
	account string

	mu      sync.RWMutex
	secrets map[string]*storedSecret
	seq     int
}

// NewSecretStore returns an empty store for one account and region.
func NewSecretStore(region, account string) *SecretStore {
	return &SecretStore{
		region:  region,
		account: account,
		secrets: make(map[string]*storedSecret),
	}
}

// Create stores a new secret and returns its ARN.
func (s *SecretStore) Create(name, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.secrets[name]; exists {
		return "", fmt.Errorf("secret %s already exists", name)
	}
	s.seq++
	// Secrets Manager appends a six character suffix to the name.
	arn := fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-%06x", s.region, s.account, name, s.seq)
	s.secrets[name] = &storedSecret{
		arn:       arn,
		value:     value,
		versionID: fmt.Sprintf("v-%08d", s.seq),
		created:   time.Now().UTC(),
	}
	return arn, nil
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (s *SecretStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}

// Exists reports whether name is stored.
func (s *SecretStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[name]
	return ok
}

// Names lists the stored secret names, sorted.
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.secrets))
	for n := range s.secrets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetSecretValue has the same shape as the Secrets Manager client method, so
// the store can stand in for it wherever a secret is fetched by name or ARN.
func (s *SecretStore) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in == nil || aws.ToString(in.SecretId) == "" {
		return nil, &types.InvalidParameterException{Message: aws.String("SecretId is required")}
	}
	id := aws.ToString(in.SecretId)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, sec := range s.secrets {
		if name == id || sec.arn == id {
			created := sec.created
			return &secretsmanager.GetSecretValueOutput{
				ARN:           aws.String(sec.arn),
				Name:          aws.String(name),
				SecretString:  aws.String(sec.value),
				VersionId:     aws.String(sec.versionID),
				VersionStages: []string{"AWSCURRENT"},
				CreatedDate:   &created,
			}, nil
		}
	}
	return nil, &types.ResourceNotFoundException{
		Message: aws.String("Secrets Manager can't find the specified secret."),
	}
}
