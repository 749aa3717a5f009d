package zengin

import "time"

// DisplayLayout formats times shown to operators.
const DisplayLayout = "2006-01-02 15:04:05"

// Tokyo is the operator time zone. Hosts without zoneinfo fall back to a
// fixed +09:00 offset.
var Tokyo = loadTokyo()

func loadTokyo() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// FormatJST renders t in Tokyo time with DisplayLayout.
func FormatJST(t time.Time) string {
	return t.In(Tokyo).Format(DisplayLayout)
}
