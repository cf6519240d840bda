package policy

import "time"

// RetryDays is 2^attempts - 1: 1, 3, 7, 15, ... for attempts 1, 2, 3, 4.
func RetryDays(retryAttempts int) int {
	if retryAttempts <= 0 {
		return 0
	}
	if retryAttempts > 30 {
		retryAttempts = 30
	}
	return (1 << uint(retryAttempts)) - 1
}

// NextRetry returns the next retry time after a failure that brought the counter to
// retryAttempts, or false once the plan's attempts are exhausted.
func NextRetry(now time.Time, retryAttempts, maxRetryAttempts int) (time.Time, bool) {
	if retryAttempts >= maxRetryAttempts {
		return time.Time{}, false
	}
	return now.Add(time.Duration(RetryDays(retryAttempts)) * 24 * time.Hour), true
}
