package booking

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "Monday, 02 Jan 2006"

func successText(b ScheduledBooking) string {
	var sb strings.Builder
	sb.WriteString("✅ Booked!\n\n")
	fmt.Fprintf(&sb, "%s\n", b.Course.Name)
	fmt.Fprintf(&sb, "📅 %s\n", b.TargetDate.Format(dateLayout))
	fmt.Fprintf(&sb, "🕐 %s – %s\n", b.Course.TimeStart, b.Course.TimeEnd)
	if b.Course.Location != "" {
		fmt.Fprintf(&sb, "📍 %s\n", b.Course.Location)
	}
	return sb.String()
}

func failureText(b ScheduledBooking) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Booking failed\n\n")
	fmt.Fprintf(&sb, "%s on %s could not be booked.\n", b.Course.Name, b.TargetDate.Format(dateLayout))
	sb.WriteString("The slot may already be full. You can try booking it on the portal yourself.")
	return sb.String()
}

func promptText(c Course, date, cancelDeadline time.Time) string {
	var sb strings.Builder
	sb.WriteString("❓ Confirm your booking\n\n")
	fmt.Fprintf(&sb, "%s\n", c.Name)
	fmt.Fprintf(&sb, "📅 %s\n", date.Format(dateLayout))
	fmt.Fprintf(&sb, "🕐 %s – %s\n", c.TimeStart, c.TimeEnd)
	if c.Location != "" {
		fmt.Fprintf(&sb, "📍 %s\n", c.Location)
	}
	fmt.Fprintf(&sb, "\nUnanswered prompts are cancelled at %s.", cancelDeadline.Format("15:04"))
	return sb.String()
}

func autoCancelText(date time.Time) string {
	return fmt.Sprintf("🚫 Booking for %s was cancelled automatically because it was not confirmed in time.", date.Format(dateLayout))
}
