package enums

import "fmt"

// NotificationType names brand and user notification events.
type NotificationType string

const (
	NotificationMetricsComplete        NotificationType = "metrics-calculation-complete"
	NotificationMetricsFailed          NotificationType = "metrics-calculation-failed"
	NotificationHistoricalSyncStarted  NotificationType = "historical-sync-started"
	NotificationHistoricalSyncProgress NotificationType = "historical-sync-progress"
	NotificationHistoricalSyncComplete NotificationType = "historical-sync-complete"
	NotificationHistoricalSyncFailed   NotificationType = "historical-sync-failed"
)

var validNotificationTypes = []NotificationType{
	NotificationMetricsComplete,
	NotificationMetricsFailed,
	NotificationHistoricalSyncStarted,
	NotificationHistoricalSyncProgress,
	NotificationHistoricalSyncComplete,
	NotificationHistoricalSyncFailed,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
