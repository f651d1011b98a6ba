package utils

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var avatarColors = []string{
	"#F44336", "#E91E63", "#9C27B0", "#673AB7", "#3F51B5", "#2196F3",
	"#009688", "#4CAF50", "#FF9800", "#FF5722", "#795548", "#607D8B",
}

// InitialAvatar возвращает SVG аватар с первой буквой имени в виде data URI.
// Цвет фона определяется именем, поэтому одно имя всегда дает один аватар.
func InitialAvatar(name string) string {
	name = strings.TrimSpace(name)
	initial := "?"
	if r, _ := utf8.DecodeRuneInString(name); r != utf8.RuneError {
		initial = string(unicode.ToUpper(r))
	}

	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(name)))
	color := avatarColors[h.Sum32()%uint32(len(avatarColors))]

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="128" height="128" viewBox="0 0 128 128">`+
		`<rect width="128" height="128" rx="64" fill="%s"/>`+
		`<text x="50%%" y="50%%" dy=".35em" text-anchor="middle" font-family="Arial, sans-serif" font-size="64" fill="#FFFFFF">%s</text>`+
		`</svg>`, color, escapeXML(initial))

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

func escapeXML(s string) string {
	switch s {
	case "&":
		return "&amp;"
	case "<":
		return "&lt;"
	case ">":
		return "&gt;"
	}
	return s
}
