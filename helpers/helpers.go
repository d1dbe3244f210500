package helpers

import (
	"strings"
	"time"

	"github.com/hako/durafmt"
)

func AppendSlashUrl(url string) string {
	if url == "" {
		return "/"
	}
	if len(url) > 0 && url[len(url)-1:] != "/" {
		return url + "/"
	}
	return url
}

func MakeUrlWithPort(url string, port string) string {
	return AppendSlashUrl(url + ":" + port)
}

// StripScheme removes an http(s) scheme prefix, comfy2go wants a bare host.
func StripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return strings.TrimSuffix(url, "/")
}

func UnixTimeToHumanReadable(timestamp int64) string {
	if timestamp == 0 {
		return "never"
	}

	return durafmt.Parse(time.Second * time.Duration(time.Now().Unix()-timestamp)).String()
}

// DurationHumanReadable formats a duration at second granularity.
func DurationHumanReadable(d time.Duration) string {
	return durafmt.Parse(d.Truncate(time.Second)).String()
}
