package prayer

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sabs90/halaqas/internal/model"
)

// Label renders a prayer-relative time for display, e.g.
// "15min after Maghrib (~6:45 pm)" or "At Isha (~8:01 pm)".
func Label(p model.Prayer, offsetMinutes int, at time.Time, loc *time.Location) string {
	// A Caser holds state between calls and must not be shared.
	name := cases.Title(language.English).String(string(p))
	clock := at.In(loc).Format("3:04 pm")

	switch {
	case offsetMinutes == 0:
		return fmt.Sprintf("At %s (~%s)", name, clock)
	case offsetMinutes > 0:
		return fmt.Sprintf("%dmin after %s (~%s)", offsetMinutes, name, clock)
	default:
		return fmt.Sprintf("%dmin before %s (~%s)", -offsetMinutes, name, clock)
	}
}
