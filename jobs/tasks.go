package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/simplement/accounts/internal/mailer"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// NewSendEmailTask constructs an Asynq task carrying a mail message.
func NewSendEmailTask(msg mailer.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// SendEmailJob delivers queued messages through an SMTP sender.
type SendEmailJob struct {
	sender mailer.Sender
	logger *slog.Logger
}

// NewSendEmailJob constructs the delivery handler used by the worker.
func NewSendEmailJob(sender mailer.Sender, logger *slog.Logger) *SendEmailJob {
	return &SendEmailJob{sender: sender, logger: logger}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var msg mailer.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return asynq.SkipRetry
	}
	if err := j.sender.Send(msg); err != nil {
		j.logger.Warn("send email", slog.String("to", msg.To), slog.Any("error", err))
		return err
	}
	j.logger.Info("email delivered", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}
