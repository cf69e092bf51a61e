package timeutil

import (
	"fmt"
	"time"
)

// FormatLastSeen превращает время последнего визита в строку вида
// "Last seen 5 minutes ago". Для пользователей онлайн всегда "Online".
func FormatLastSeen(lastSeen *time.Time, isOnline bool, now time.Time) string {
	if isOnline {
		return "Online"
	}
	if lastSeen == nil {
		return "Last seen recently"
	}

	diff := now.Sub(*lastSeen)
	minutes := int(diff.Minutes())
	hours := int(diff.Hours())
	days := hours / 24

	switch {
	case minutes < 1:
		return "Last seen just now"
	case minutes < 60:
		return fmt.Sprintf("Last seen %d %s ago", minutes, plural(minutes, "minute"))
	case hours < 24:
		return fmt.Sprintf("Last seen %d %s ago", hours, plural(hours, "hour"))
	case days < 7:
		return fmt.Sprintf("Last seen %d %s ago", days, plural(days, "day"))
	default:
		return "Last seen " + lastSeen.Format("1/2/2006")
	}
}

// FormatMessageTime — компактная метка времени для списка чатов:
// сегодня — время, вчера — "Yesterday", на этой неделе — день недели.
func FormatMessageTime(t time.Time, now time.Time) string {
	days := daysBetween(t, now)

	switch {
	case days == 0:
		return t.Format("15:04")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return t.Format("Mon")
	default:
		return t.Format("Jan 2")
	}
}

func daysBetween(t, now time.Time) int {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, t.Location())
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, now.Location())
	return int(b.Sub(a).Hours() / 24)
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
