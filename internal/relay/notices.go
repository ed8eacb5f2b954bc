package relay

import (
	"fmt"
	"strings"

	accessmodels "relaygate/internal/access/models"
)

// Fixed texts sent by the relay.
const (
	noticeChallengeFirst   = "Hello! Before your message can be delivered, please type the code shown in the picture (case-insensitive)."
	noticeChallengeExpired = "The code has expired. Please type the new code shown in the picture (case-insensitive)."
	noticeChallengePending = "Please type the code from the picture you received."
	noticeVerified         = "Verification passed, you can send messages now."
	noticeLockedOut        = "Too many wrong codes. You have been blocked."
	noticeFloodWarning     = "Please slow down, or you will be blocked."
	noticeFloodBanned      = "You have been blocked for flooding."
	noticeOperatorBanned   = "This user has been banned."
	noticeFloodOperator    = "This user was banned automatically for flooding."
	noticeNotRoutable      = "This topic is not linked to any user."
	noticeUserBlockedBot   = "Delivery failed: the user has blocked the bot."
	noticeManualVerified   = "An operator verified you manually, you can send messages now."
	noticeManualUnverified = "An operator cleared your verification. Please verify again."
	noticeRejectedEdit     = "Your edited message was rejected: %s"
)

func noticeMismatch(remaining int) string {
	if remaining == 1 {
		return "Wrong code, 1 attempt left."
	}
	return fmt.Sprintf("Wrong code, %d attempts left.", remaining)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// infoCard is posted as the first message of a new user topic.
func infoCard(u *accessmodels.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User ID: %d\n", u.ID)
	if u.Profile.FullName != "" {
		fmt.Fprintf(&b, "Name: %s\n", u.Profile.FullName)
	}
	if u.Profile.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", u.Profile.Username)
	}
	if u.Profile.LanguageCode != "" {
		fmt.Fprintf(&b, "Language: %s\n", u.Profile.LanguageCode)
	}
	fmt.Fprintf(&b, "Premium: %s", yesNo(u.Profile.IsPremium))
	return b.String()
}

func spamReason(reason string) string {
	return "Flagged as spam: " + reason
}
