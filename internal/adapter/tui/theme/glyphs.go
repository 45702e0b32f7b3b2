package theme

import (
	"os"
	"strings"
)

// Glyphs are the pictographs the client draws with.
type Glyphs struct {
	Bullet string
	Arrow  string
	Image  string
	Busy   string
	Fail   string
	Rule   string
	Dot    string
}

var (
	fancyGlyphs = Glyphs{Bullet: "•", Arrow: "↳", Image: "▣", Busy: "◌", Fail: "✗", Rule: "─", Dot: "·"}
	plainGlyphs = Glyphs{Bullet: "*", Arrow: "->", Image: "[img]", Busy: "...", Fail: "x", Rule: "-", Dot: "|"}
)

// G is the glyph set for this terminal.
var G = pickGlyphs(os.Getenv)

// pickGlyphs falls back to ASCII when OMNI_ASCII_SYMBOLS is truthy, the
// terminal is "dumb", or the locale names a non UTF-8 charset.
func pickGlyphs(getenv func(string) string) Glyphs {
	switch strings.ToLower(getenv("OMNI_ASCII_SYMBOLS")) {
	case "1", "true", "yes":
		return plainGlyphs
	}
	if getenv("TERM") == "dumb" {
		return plainGlyphs
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := strings.ToLower(getenv(key))
		if v == "" {
			continue
		}
		if strings.Contains(v, "utf-8") || strings.Contains(v, "utf8") {
			return fancyGlyphs
		}
		if v == "c" || v == "posix" || strings.Contains(v, ".") {
			return plainGlyphs
		}
	}
	return fancyGlyphs
}
