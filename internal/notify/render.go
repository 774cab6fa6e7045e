package notify

import (
	"fmt"

	"autopost/internal/post"
	kit "autopost/internal/transport"
	"autopost/pkg/tgui"
)

func publishedMessage(ev post.Event) Message {
	head := "✅ " + tgui.B("Published") + " " + tgui.Code(ev.PostID)
	if ev.Attempts > 1 {
		head += tgui.H(fmt.Sprintf(" after %d attempts", ev.Attempts))
	}
	var excerpt tgui.H
	if ev.Excerpt != "" {
		excerpt = tgui.I(ev.Excerpt)
	}
	return Message{Text: tgui.JoinH("\n", head, excerpt, tgui.Esc(ev.Ref)).String(), Silent: true}
}

func failedMessage(ev post.Event) Message {
	head := "❌ " + tgui.B("Publishing failed") + " " + tgui.Code(ev.PostID) + tgui.H(fmt.Sprintf(" (%d attempts)", ev.Attempts))
	var kind, msg, excerpt tgui.H
	if ev.Note != "" {
		kind = tgui.Esc("kind: " + ev.Note)
	}
	if ev.Error != "" {
		msg = tgui.Pre(post.Excerpt(ev.Error, 300))
	}
	if ev.Excerpt != "" {
		excerpt = tgui.I(ev.Excerpt)
	}
	var row []kit.Button
	for _, b := range []struct{ text, action string }{{"Retry", "retry"}, {"Cancel", "cancel"}} {
		if data, err := tgui.Data("post", b.action, ev.PostID); err == nil {
			row = append(row, kit.Button{Text: b.text, Data: data})
		}
	}
	m := Message{Text: tgui.JoinH("\n", head, kind, msg, excerpt).String()}
	if len(row) > 0 {
		m.Buttons = [][]kit.Button{row}
	}
	return m
}
