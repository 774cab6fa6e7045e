package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"autopost/internal/post"
	"autopost/internal/storage"
	kit "autopost/internal/transport"
	"autopost/pkg/tgui"
)

const (
	listPageSize = 10
	listFetchMax = 500
)

var errStaleList = errors.New("bad list payload")

type listQuery struct {
	statuses []post.Status
	page     int
	size     int
}

// encode packs q as "<page>.<size>.<status indexes>" to stay under the
// callback data limit.
func (q listQuery) encode() string {
	var idx strings.Builder
	for _, st := range q.statuses {
		idx.WriteString(strconv.Itoa(slices.Index(post.Statuses, st)))
	}
	return fmt.Sprintf("%d.%d.%s", q.page, q.size, idx.String())
}

func decodeListQuery(s string) (listQuery, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return listQuery{}, errStaleList
	}
	page, err1 := strconv.Atoi(parts[0])
	size, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || page < 0 || size <= 0 {
		return listQuery{}, errStaleList
	}
	q := listQuery{page: page, size: size}
	for _, c := range parts[2] {
		i := int(c - '0')
		if i < 0 || i >= len(post.Statuses) {
			return listQuery{}, errStaleList
		}
		q.statuses = append(q.statuses, post.Statuses[i])
	}
	return q, nil
}

func (r *Router) cmdList(ctx context.Context, req *Request) error {
	q := listQuery{size: listPageSize}
	for _, a := range req.Args {
		st := post.Status(strings.ToLower(a))
		if !st.Valid() {
			return fail(ctx, req, fmt.Errorf("unknown status %q", a))
		}
		if !slices.Contains(q.statuses, st) {
			q.statuses = append(q.statuses, st)
		}
	}
	if v, ok := req.Flags["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 50 {
			return fail(ctx, req, fmt.Errorf("bad --limit %q (1-50)", v))
		}
		q.size = n
	}
	text, buttons, err := r.listPage(ctx, q)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, text, buttons...)
}

func (r *Router) listPage(ctx context.Context, q listQuery) (string, [][]kit.Button, error) {
	posts, err := r.svc.List(ctx, storage.Filter{Statuses: q.statuses, Limit: listFetchMax})
	if err != nil {
		return "", nil, err
	}
	pg := tgui.Paginate(posts, q.page, q.size)
	text := formatList(pg.Items)
	if !pg.HasPrev && !pg.HasNext {
		return text, nil, nil
	}
	text += "\n\n" + tgui.I(pg.Label()).String()

	var row []kit.Button
	if pg.HasPrev {
		prev := q
		prev.page = pg.Number - 1
		row = appendButton(row, "‹ prev", "list", "page", prev.encode())
	}
	if pg.HasNext {
		next := q
		next.page = pg.Number + 1
		row = appendButton(row, "next ›", "list", "page", next.encode())
	}
	return text, [][]kit.Button{row}, nil
}

// cbListPage re-renders the list message in place.
func (r *Router) cbListPage(ctx context.Context, req *Request, payload string) (string, error) {
	q, err := decodeListQuery(payload)
	if err != nil {
		return "this list is out of date, send /list again", nil
	}
	text, buttons, err := r.listPage(ctx, q)
	if err != nil {
		return describeErr(err), err
	}
	cb := req.Update.Callback
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: buttons}
	if err := r.adapter.EditText(ctx, ref, text, opt); err != nil {
		return "could not update the list", err
	}
	return "", nil
}
