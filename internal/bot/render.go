package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	accessmodels "relaygate/internal/access/models"
	mappingmodels "relaygate/internal/mapping/models"
	"relaygate/internal/relay"
)

const (
	textRetracted       = "Message deleted on both sides."
	textRetractPartial  = "Record removed, but one of the copies could not be deleted."
	textRetractGone     = "Record removed, but the other copy had already been deleted."
	textCannotUndo      = "This message cannot be undone."
	textRetractUsage    = "Reply to a message with /d to delete it."
	textBanned          = "User banned."
	textAlreadyBanned   = "User is already banned."
	textUnbanned        = "User unbanned. They will need to verify again."
	textNotBanned       = "User is not banned."
	textVerifyUsage     = "Usage: /verify true|false"
	textVerified        = "User verified."
	textUnverified      = "User verification cleared."
	textBannedNoVerify  = "User is banned; unban first."
	textNoUser          = "No user is linked to this topic."
	textNoMessageRecord = "No record for this message."
)

const textHelp = `Operator commands (inside a user topic):
/d - reply to a message to delete it on both sides
/ban - ban the user of this topic
/unban - lift the ban
/verify true|false - verify or unverify the user manually
/info - user card; as a reply, message record; in General, relay stats
/help - this text

Anything else you write in a user topic is sent to that user.`

const timeLayout = "2006-01-02 15:04:05 MST"

func renderStats(st *relay.Stats) string {
	var b strings.Builder
	states := make([]string, 0, len(st.Users))
	for s := range st.Users {
		states = append(states, string(s))
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%d %s", st.Users[accessmodels.State(s)], s))
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	fmt.Fprintf(&b, "Users: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "Topics: %d\n", st.Topics)
	fmt.Fprintf(&b, "Messages: %d recorded, %d active, %d spam", st.Mappings.Total, st.Mappings.Active, st.Mappings.Spam)
	return b.String()
}

func renderUser(u *accessmodels.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User ID: %d\n", u.ID)
	if u.Profile.FullName != "" {
		fmt.Fprintf(&b, "Name: %s\n", u.Profile.FullName)
	}
	if u.Profile.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", u.Profile.Username)
	}
	fmt.Fprintf(&b, "State: %s\n", u.State)
	if u.State == accessmodels.StateBanned && u.BanReason != "" {
		fmt.Fprintf(&b, "Ban reason: %s\n", u.BanReason)
	}
	fmt.Fprintf(&b, "First seen: %s\n", u.FirstSeenAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "Last activity: %s", u.LastActivityAt.UTC().Format(timeLayout))
	return b.String()
}

func renderMapping(m *mappingmodels.Mapping) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", m.Direction)
	fmt.Fprintf(&b, "User ID: %d\n", m.UserID)
	if m.Spam {
		fmt.Fprintf(&b, "Spam: yes (%s)\n", m.Reason)
	} else {
		b.WriteString("Spam: no\n")
	}
	fmt.Fprintf(&b, "Relayed at: %s", m.CreatedAt.UTC().Format(timeLayout))
	return b.String()
}

func renderAlert(updateID int64, err error) string {
	return fmt.Sprintf("Relay error while handling update %d: %v", updateID, err)
}

func renderPanic(updateID int64, v any) string {
	return fmt.Sprintf("Relay panic while handling update %d: %v (at %s)", updateID, v, time.Now().UTC().Format(timeLayout))
}
