package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/weekplanner/internal/model"
)

// EndpointValidator は通知先URLを登録前に検証する。security.SSRFGuardServiceが満たす。
type EndpointValidator interface {
	ValidateEndpoint(rawURL string) error
}

// SubscriptionRepository は通知先の登録・削除に必要なリポジトリ操作。
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.PushSubscription) error
	ListByUserID(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// maxEndpointLength は通知先URLの最大長。
const maxEndpointLength = 2048

// Registry はユーザーの通知先の登録・解除を扱う。
type Registry struct {
	repo      SubscriptionRepository
	validator EndpointValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry はRegistryの新しいインスタンスを生成する。
func NewRegistry(repo SubscriptionRepository, validator EndpointValidator, logger *slog.Logger) *Registry {
	return &Registry{
		repo:      repo,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// Register は通知先を登録する。同じURLを登録済みの場合は既存の登録を返す。
// URLはSSRF防止のため公開ホストのhttpsのみ受け付ける。
func (r *Registry) Register(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) > maxEndpointLength {
		return nil, model.NewInvalidPushEndpointError("URLが長すぎます")
	}
	if err := r.validator.ValidateEndpoint(endpoint); err != nil {
		r.logger.Warn("通知先の検証に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidPushEndpointError(err.Error())
	}

	sub := &model.PushSubscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  endpoint,
		CreatedAt: r.now(),
	}
	if err := r.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("通知先の登録に失敗しました: %w", err)
	}

	r.logger.Info("通知先を登録しました",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
	)
	return sub, nil
}

// List はユーザーの通知先一覧を返す。
func (r *Registry) List(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	subs, err := r.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("通知先一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}

// Unregister はユーザーの通知先を削除する。見つからない場合はNotFoundエラーを返す。
func (r *Registry) Unregister(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewPushSubscriptionNotFoundError(id)
	}

	deleted, err := r.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("通知先の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewPushSubscriptionNotFoundError(id)
	}
	return nil
}
