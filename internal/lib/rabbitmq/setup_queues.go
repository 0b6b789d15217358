package rabbitmq

import "github.com/magabrotheeeer/trial-gatekeeper/internal/models"

// QueueConfig описывает очередь и ее routing key.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetTrialEventQueues возвращает очереди событий триала,
// которые читает внешний отправитель уведомлений.
func GetTrialEventQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "trial.events.created", RoutingKey: models.EventTrialCreated},
		{QueueName: "trial.events.extended", RoutingKey: models.EventTrialExtended},
		{QueueName: "trial.events.reactivated", RoutingKey: models.EventTrialReactivated},
		{QueueName: "trial.events.expired", RoutingKey: models.EventTrialExpired},
		{QueueName: "trial.events.converted", RoutingKey: models.EventTrialConverted},
	}
}
