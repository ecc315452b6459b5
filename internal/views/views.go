// Package views renders feed data for the terminal. Rendering is pure: the
// functions take fetched data and return strings, so every screen is
// testable without a backend.
package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"murmur/internal/feed"
	"murmur/internal/profile"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// Options controls rendering.
type Options struct {
	// Plain drops table borders and markers for non-tty output.
	Plain bool

	// Now anchors relative timestamps. Zero means time.Now.
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Feed renders the post stream with one numbered row per post. The number is
// what interaction commands accept, so the caller must persist the same
// ordering it passed here.
func Feed(posts []feed.Post, opts Options) string {
	if len(posts) == 0 {
		return "No posts yet. Record one with `murmur record`."
	}

	headers := []string{"#", "Title", "By", "Likes", "Comments", "Posted", ""}
	rows := make([][]string, 0, len(posts))
	for i, post := range posts {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			title(post),
			post.Author.Username,
			strconv.Itoa(post.LikeCount),
			strconv.Itoa(post.CommentCount),
			relativeTime(post.CreatedAt, opts),
			markers(post, opts),
		})
	}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
	return render(headers, rows, aligns, opts)
}

// Saved renders the saved-posts screen.
func Saved(posts []feed.Post, opts Options) string {
	if len(posts) == 0 {
		return "No saved posts."
	}
	return Feed(posts, opts)
}

// Comments renders a post's comment thread, oldest first.
func Comments(comments []feed.Comment, opts Options) string {
	if len(comments) == 0 {
		return "No comments yet."
	}

	var b strings.Builder
	for i, comment := range comments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s · %s\n", comment.Author.Username, relativeTime(comment.CreatedAt, opts))
		fmt.Fprintf(&b, "  %s\n", comment.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Profile renders the profile screen with the user's post count.
func Profile(p *profile.Profile, posts []feed.Post, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s\n", p.Username)
	if p.Bio != "" {
		fmt.Fprintf(&b, "%s\n", p.Bio)
	}
	if p.Website != "" {
		fmt.Fprintf(&b, "%s\n", p.Website)
	}
	fmt.Fprintf(&b, "%d posts\n", len(posts))
	if len(posts) > 0 {
		b.WriteString("\n")
		b.WriteString(Feed(posts, opts))
	}
	return strings.TrimRight(b.String(), "\n")
}

func title(post feed.Post) string {
	t := post.Title
	if post.Description != "" {
		t += " · " + truncate(post.Description, 40)
	}
	return t
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func markers(post feed.Post, opts Options) string {
	if opts.Plain {
		var m []string
		if post.Liked {
			m = append(m, "liked")
		}
		if post.Saved {
			m = append(m, "saved")
		}
		return strings.Join(m, ",")
	}
	var b strings.Builder
	if post.Liked {
		b.WriteString("♥")
	}
	if post.Saved {
		b.WriteString("★")
	}
	return b.String()
}

func relativeTime(t time.Time, opts Options) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, opts.now(), "ago", "from now")
}

func render(headers []string, rows [][]string, aligns []columnAlignment, opts Options) string {
	if opts.Plain {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range header {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
