package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf16"
)

const (
	warningNoRoomId = "⚠️ Không tìm thấy RoomID. Hãy reply đúng tin nhắn có chứa RoomID."
	errorDelivery   = "❌ Lỗi: Không thể gửi tin nhắn xuống Web."
	ackDelivered    = "✅ Đã gửi."
)

// Telegram counts lengths in UTF-16 code units.
const (
	maxTextLen    = 4096
	maxCaptionLen = 1024
)

const ellipsis = "…"

var roomIdPattern = regexp.MustCompile(`RoomID:\s*([^\s<]+)`)

// FormatRelay renders the operator-facing text for a user message. The
// RoomID line is what replies are routed by.
func FormatRelay(displayName, roomId, text string) string {
	return formatRelay(displayName, roomId, text, maxTextLen)
}

// FormatCaption is FormatRelay sized for a photo caption.
func FormatCaption(displayName, roomId, text string) string {
	return formatRelay(displayName, roomId, text, maxCaptionLen)
}

// formatRelay cuts the message body so the result fits in limit. The
// header, including the RoomID line, is never cut.
func formatRelay(displayName, roomId, text string, limit int) string {
	header := fmt.Sprintf("📩 <b>Tin nhắn mới từ Web!</b>\n"+
		"👤 Tên: %s\n"+
		"🆔 RoomID: <code>%s</code>\n"+
		"-----------------------\n",
		html.EscapeString(displayName),
		html.EscapeString(roomId),
	)
	return header + truncateEscaped(text, limit-utf16Len(header))
}

// truncateEscaped HTML-escapes text and cuts it on a rune boundary, never
// inside an entity, to at most budget code units.
func truncateEscaped(text string, budget int) string {
	escaped := html.EscapeString(text)
	if utf16Len(escaped) <= budget {
		return escaped
	}

	budget -= utf16Len(ellipsis)
	var b strings.Builder
	used := 0
	for _, r := range text {
		esc := html.EscapeString(string(r))
		n := utf16Len(esc)
		if used+n > budget {
			break
		}
		b.WriteString(esc)
		used += n
	}
	b.WriteString(ellipsis)
	return b.String()
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ExtractRoomId finds the room id embedded by FormatRelay in a message as
// Telegram returns it, with markup already stripped.
func ExtractRoomId(text string) (string, bool) {
	m := roomIdPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}
