package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"trafficguard/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("notify.service",
	fx.Provide(
		registerFraudWriter,
		NewService,
		func(s *Service) Notifier { return s },
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Notification{})
}

// FraudDetected is the platform-level signal raised when a campaign is moved
// under review.
type FraudDetected struct {
	CampaignID string `json:"campaign_id"`
	Reason     string `json:"reason"`
}

// FraudScoreExceeded is the secondary signal raised when the average fraud
// score crosses its own threshold. Different downstream consumers subscribe
// to this one.
type FraudScoreExceeded struct {
	CreatorID  string  `json:"creator_id"`
	CampaignID string  `json:"campaign_id"`
	Score      float64 `json:"score"`
}

// UserNotification is a creator-facing in-app message.
type UserNotification struct {
	UserID string
	Title  string
	Body   string
}

// Notifier is the side-effect surface the safety actuator drives.
type Notifier interface {
	NotifyUser(ctx context.Context, n UserNotification) error
	NotifyFraudDetected(ctx context.Context, signal FraudDetected) error
	NotifyFraudScoreExceeded(ctx context.Context, signal FraudScoreExceeded) error
}

// MessageWriter is the subset of kafka.Writer the service uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func registerFraudWriter(lc fx.Lifecycle, cfg *config.Config) MessageWriter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Kafka.Addrs, ",")...),
		Topic:                  cfg.Kafka.FraudTopic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return writer.Close()
		},
	})

	return writer
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	writer MessageWriter
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Writer MessageWriter
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		writer: p.Writer,
	}
}

func (s *Service) NotifyUser(ctx context.Context, n UserNotification) error {
	row := Notification{
		ID:       s.node.Generate().String(),
		Scope:    ScopeUser,
		UserID:   n.UserID,
		Type:     TypeFraudDetected,
		Priority: PriorityP1High,
		Title:    n.Title,
		Body:     n.Body,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		zap.L().Error("failed to create notification", zap.String("user_id", n.UserID), zap.Error(err))
		return err
	}

	return nil
}

func (s *Service) NotifyFraudDetected(ctx context.Context, signal FraudDetected) error {
	return s.publish(ctx, "fraud.detected", signal.CampaignID, signal)
}

func (s *Service) NotifyFraudScoreExceeded(ctx context.Context, signal FraudScoreExceeded) error {
	return s.publish(ctx, "fraud.score_exceeded", signal.CampaignID, signal)
}

type envelope struct {
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func (s *Service) publish(ctx context.Context, event, key string, payload interface{}) error {
	body, err := json.Marshal(envelope{
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		zap.L().Error("failed to publish fraud signal", zap.String("event", event), zap.Error(err))
		return err
	}

	return nil
}
