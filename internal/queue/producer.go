package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// CampaignMessage 战役消息
// 只携带调度需要的字段，完整记录在数据库里
type CampaignMessage struct {
	CampaignID   string `json:"campaign_id"`
	APKName      string `json:"apk_name"`
	APKPath      string `json:"apk_path"`
	TPLName      string `json:"tpl_name"`
	TPLPath      string `json:"tpl_path"`
	Mode         string `json:"mode"` // basic, automated
	DetectorType string `json:"detector_type,omitempty"`
}

// Producer 消息生产者
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishCampaign 发布战役消息
func (p *Producer) PublishCampaign(ctx context.Context, msg *CampaignMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("campaign_id", msg.CampaignID).Error("Failed to publish campaign")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"campaign_id": msg.CampaignID,
		"apk_name":    msg.APKName,
		"tpl_name":    msg.TPLName,
		"mode":        msg.Mode,
	}).Info("Campaign published to queue")
	return nil
}

// GetQueueSize 队列中待处理的战役数量
func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
