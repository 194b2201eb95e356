package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arkline/identity-api/internal/apperr"
)

const (
	identifierKeyPrefix = "users_identifier_"
	emailKeyPrefix      = "users_email_"
	clientIDKeyPrefix   = "users_clientId_"
)

// ProjectionCache stores the serialized aggregate under three lookup keys:
// identifier, email and client id. Reads are served from the cache alone;
// a missing projection is reported as not found, never silently refilled
// from the database.
type ProjectionCache struct {
	client *redis.Client
}

func NewProjectionCache(client *redis.Client) *ProjectionCache {
	return &ProjectionCache{client: client}
}

// Put writes all three projection keys in a single pipeline.
func (c *ProjectionCache) Put(ctx context.Context, agg *Aggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal projection: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, identifierKey(agg.Identifier), payload, 0)
	pipe.Set(ctx, emailKey(agg.Communication.Email), payload, 0)
	pipe.Set(ctx, clientIDKey(agg.ClientID), payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write projection: %w", err)
	}
	return nil
}

// Delete removes the three keys derived from the aggregate.
func (c *ProjectionCache) Delete(ctx context.Context, agg *Aggregate) error {
	keys := []string{
		identifierKey(agg.Identifier),
		emailKey(agg.Communication.Email),
		clientIDKey(agg.ClientID),
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete projection: %w", err)
	}
	return nil
}

// DeleteEmail drops a single stale email key, used when a profile update
// moves the aggregate to a new address.
func (c *ProjectionCache) DeleteEmail(ctx context.Context, email string) error {
	if err := c.client.Del(ctx, emailKey(email)).Err(); err != nil {
		return fmt.Errorf("delete email projection: %w", err)
	}
	return nil
}

func (c *ProjectionCache) GetByIdentifier(ctx context.Context, id uuid.UUID) (*Aggregate, error) {
	return c.get(ctx, identifierKey(id))
}

func (c *ProjectionCache) GetByEmail(ctx context.Context, email string) (*Aggregate, error) {
	return c.get(ctx, emailKey(email))
}

func (c *ProjectionCache) GetByClientID(ctx context.Context, clientID uuid.UUID) (*Aggregate, error) {
	return c.get(ctx, clientIDKey(clientID))
}

func (c *ProjectionCache) get(ctx context.Context, key string) (*Aggregate, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read projection: %w", err)
	}

	var agg Aggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &agg, nil
}

func identifierKey(id uuid.UUID) string {
	return identifierKeyPrefix + id.String()
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}

func clientIDKey(clientID uuid.UUID) string {
	return clientIDKeyPrefix + clientID.String()
}
