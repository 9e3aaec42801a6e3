package notify

import (
	"fmt"

	"waste-auth-service/internal/models"
)

func purposeText(purpose string) string {
	switch purpose {
	case models.OTPPurposePasswordReset:
		return "password reset"
	case models.OTPPurposeVerification:
		return "account verification"
	default:
		return "sign-in"
	}
}

// RenderOTP builds the channel-appropriate message for a one-time code. The
// code itself appears only in the message body, never in logs.
func RenderOTP(channel, recipient, purpose, code string, expiryMinutes int) Message {
	action := purposeText(purpose)

	switch channel {
	case ChannelEmail:
		body := fmt.Sprintf(
			"Your %s code is %s. It expires in %d minutes.\n\nIf you did not request this code, ignore this message.",
			action, code, expiryMinutes)
		html := fmt.Sprintf(
			"<p>Your %s code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p><p>If you did not request this code, ignore this message.</p>",
			action, code, expiryMinutes)
		return Message{
			Channel:   ChannelEmail,
			Recipient: recipient,
			Subject:   fmt.Sprintf("Your %s code", action),
			Body:      body,
			HTMLBody:  html,
		}
	default:
		return Message{
			Channel:   ChannelSMS,
			Recipient: recipient,
			Body: fmt.Sprintf("%s is your %s code. Valid for %d minutes.",
				code, action, expiryMinutes),
		}
	}
}

// RenderAccountLocked notifies the account owner that a lockout triggered.
func RenderAccountLocked(channel, recipient string, lockMinutes int) Message {
	body := fmt.Sprintf(
		"Your account was temporarily locked after repeated failed sign-in attempts. It unlocks automatically in %d minutes.",
		lockMinutes)

	if channel == ChannelEmail {
		return Message{
			Channel:   ChannelEmail,
			Recipient: recipient,
			Subject:   "Account temporarily locked",
			Body:      body,
		}
	}
	return Message{
		Channel:   ChannelSMS,
		Recipient: recipient,
		Body:      body,
	}
}
