package service

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf16"

	"planner-bot/internal/model"
)

const (
	noteSummaryLimit = 50
	emptyNoteLabel   = "(пустая заметка)"
)

// MessageLimit is the longest text Telegram accepts in one message, in UTF-16 units.
const MessageLimit = 4096

// ComposeDigest renders the daily digest. Empty sections are left out.
func ComposeDigest(c Content, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var sb strings.Builder
	sb.WriteString("👋 <b>Доброе утро!</b>\n\n")

	if len(c.DueToday) > 0 {
		sb.WriteString("🟠 <b>Задачи на сегодня:</b>\n")
		for _, task := range c.DueToday {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(task.Title)))
		}
		sb.WriteByte('\n')
	}

	if len(c.Overdue) > 0 {
		sb.WriteString("🔥 <b>Просроченные задачи:</b>\n")
		for _, task := range c.Overdue {
			sb.WriteString(fmt.Sprintf("• %s — было до %s\n", escape(task.Title), task.DueAt.In(loc).Format("02.01.2006")))
		}
		sb.WriteByte('\n')
	}

	if len(c.NoDeadline) > 0 {
		sb.WriteString("📝 <b>Задачи без дедлайна:</b>\n")
		for _, task := range c.NoDeadline {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(task.Title)))
		}
		sb.WriteByte('\n')
	}

	if len(c.Notes) > 0 {
		sb.WriteString("🧠 <b>Новые заметки со вчера:</b>\n")
		for _, note := range c.Notes {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(NoteSummary(note))))
		}
		sb.WriteByte('\n')
	}

	if len(c.Projects) > 0 {
		sb.WriteString("📁 <b>Твои проекты:</b>\n")
		for _, project := range c.Projects {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(project.Name)))
		}
	}

	return strings.TrimSpace(sb.String())
}

// ComposeAlert renders the one-shot "deadline approaching" message.
func ComposeAlert(task model.Task, kind model.ReminderKind, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var sb strings.Builder
	sb.WriteString("⏰ <b>Скоро дедлайн</b>\n")
	sb.WriteString(fmt.Sprintf("До задачи «<b>%s</b>» осталось %s.", escape(task.Title), leadLabel(kind)))
	if task.DueAt != nil {
		sb.WriteString(fmt.Sprintf("\n📅 Дедлайн: <code>%s</code>", task.DueAt.In(loc).Format("02.01.2006 15:04")))
	}
	return sb.String()
}

// NoteSummary picks the note's content, then its title, then a placeholder,
// cut to fit one digest line.
func NoteSummary(note model.Note) string {
	base := strings.TrimSpace(note.Content)
	if base == "" {
		base = strings.TrimSpace(note.Title)
	}
	if base == "" {
		return emptyNoteLabel
	}
	runes := []rune(base)
	if len(runes) <= noteSummaryLimit {
		return base
	}
	return string(runes[:noteSummaryLimit-3]) + "..."
}

// SplitMessage cuts text into parts no longer than limit UTF-16 units. Parts
// break between sections when they fit, otherwise between lines; only a single
// line longer than limit is cut inside.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || textLen(text) <= limit {
		return []string{text}
	}

	var (
		parts  []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if part := strings.TrimSpace(cur.String()); part != "" {
			parts = append(parts, part)
		}
		cur.Reset()
		curLen = 0
	}
	add := func(piece, sep string) {
		n := textLen(piece)
		if curLen > 0 && curLen+textLen(sep)+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += textLen(sep)
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, section := range strings.Split(text, "\n\n") {
		if textLen(section) <= limit {
			add(section, "\n\n")
			continue
		}
		sep := "\n\n"
		for _, line := range strings.Split(section, "\n") {
			for _, chunk := range splitLine(line, limit) {
				add(chunk, sep)
				sep = "\n"
			}
		}
	}
	flush()
	return parts
}

// splitLine cuts one over-long line, never inside an HTML entity.
func splitLine(line string, limit int) []string {
	if textLen(line) <= limit {
		return []string{line}
	}
	var out []string
	runes := []rune(line)
	for len(runes) > 0 {
		cut, size := 0, 0
		for cut < len(runes) {
			n := utf16.RuneLen(runes[cut])
			if n < 0 {
				n = 1
			}
			if size+n > limit {
				break
			}
			size += n
			cut++
		}
		if cut == 0 {
			cut = 1
		}
		if cut < len(runes) {
			if amp := lastRune(runes[:cut], '&'); amp > 0 && amp > lastRune(runes[:cut], ';') && cut-amp <= 10 {
				cut = amp
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return out
}

func lastRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func leadLabel(kind model.ReminderKind) string {
	switch kind {
	case model.Remind1Day:
		return "1 день"
	case model.Remind3Hours:
		return "3 часа"
	case model.Remind1Hour:
		return "1 час"
	default:
		return string(kind)
	}
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
