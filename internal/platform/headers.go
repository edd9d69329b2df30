package platform

import (
	"fmt"
	"math/rand"
	"net/http"
)

// The upstream blocks obviously non-browser clients, so chat calls carry a
// plausible Chrome header set. Versions and platforms are rotated per request
// for fingerprint diversity; correctness does not depend on the rotation.

var uaPlatforms = []struct {
	uaOS    string
	secCHUA string
}{
	{"Windows NT 10.0; Win64; x64", `"Windows"`},
	{"Macintosh; Intel Mac OS X 10_15_7", `"macOS"`},
	{"Windows NT 10.0; Win64; x64", `"Linux"`},
}

func chromeUA(version int, uaOS string) string {
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", uaOS, version)
}

// BrowserHeaders builds the fingerprint header set for a chat call.
func (d *Descriptor) BrowserHeaders(chatID, authToken string) http.Header {
	version := 138 + rand.Intn(3)
	pick := uaPlatforms[rand.Intn(len(uaPlatforms))]

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "*/*")
	h.Set("User-Agent", chromeUA(version, pick.uaOS))
	h.Set("Authorization", "Bearer "+authToken)
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8,en-GB;q=0.7,en-US;q=0.6")
	h.Set("sec-ch-ua", fmt.Sprintf(`"Chromium";v="%d", "Not=A?Brand";v="24", "Google Chrome";v="%d"`, version, version))
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", pick.secCHUA)
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
	h.Set("X-FE-Version", d.XFEVersion)
	h.Set("Origin", d.Origin())
	h.Set("Referer", d.Referer(chatID))
	h.Set("Priority", "u=1, i")
	return h
}

// AuthHeaders builds the header set for the anonymous token endpoint.
func (d *Descriptor) AuthHeaders() http.Header {
	const version = 140
	h := http.Header{}
	h.Set("User-Agent", chromeUA(version, "Windows NT 10.0; Win64; x64"))
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.Set("X-FE-Version", d.XFEVersion)
	h.Set("sec-ch-ua", fmt.Sprintf(`"Chromium";v="%d", "Not=A?Brand";v="24", "Google Chrome";v="%d"`, version, version))
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("Origin", d.Origin())
	h.Set("Referer", d.Origin()+"/")
	return h
}
