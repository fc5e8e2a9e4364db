package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"mmassist/internal/domain"
	"mmassist/internal/metrics"
	"mmassist/internal/vectorstore"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func panel(title string, lines ...string) string {
	return boxStyle.Render(titleStyle.Render(title) + "\n" + strings.Join(lines, "\n"))
}

func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", dimStyle.Render(key), value)
}

func renderKnowledgeStats(st domain.KnowledgeStats) string {
	if st.Chunks == 0 {
		return panel("📚 Knowledge Base", dimStyle.Render("No documents indexed yet."))
	}
	return panel("📚 Knowledge Base",
		kv("Documents", st.Documents),
		kv("Chunks", st.Chunks),
		kv("Vector dimensions", st.VectorDims),
	)
}

// knowledgeState summarises whether the index could be opened.
func knowledgeState(st domain.KnowledgeStats, available bool, openErr error) string {
	switch {
	case vectorstore.IsLocked(openErr):
		return failStyle.Render("locked by another mmassist process")
	case openErr != nil:
		return failStyle.Render("unavailable: " + openErr.Error())
	case !available:
		return warnStyle.Render("not initialised")
	}
	return fmt.Sprintf("%d documents, %d chunks", st.Documents, st.Chunks)
}

func renderHits(hits []domain.SearchHit) string {
	var lines []string
	for i, h := range hits {
		text := strings.Join(strings.Fields(h.Chunk.Text), " ")
		if r := []rune(text); len(r) > 160 {
			text = string(r[:160]) + "…"
		}
		lines = append(lines, fmt.Sprintf("%d. %s %s\n   %s",
			i+1, titleStyle.Render(h.Chunk.Source), dimStyle.Render(fmt.Sprintf("(distance %.4f)", h.Distance)), text))
	}
	return panel("🔎 Sources", lines...)
}

func renderGallery(images []domain.ImageRecord, limit int) string {
	if len(images) == 0 {
		return panel("🖼️ Image Gallery", dimStyle.Render("No images generated yet."))
	}
	start := 0
	if limit > 0 && len(images) > limit {
		start = len(images) - limit
	}
	var lines []string
	for i := len(images) - 1; i >= start; i-- {
		img := images[i]
		lines = append(lines, fmt.Sprintf("%s  %s\n   %s",
			dimStyle.Render(img.Timestamp.Local().Format("2006-01-02 15:04")), img.Prompt, okStyle.Render(img.URL)))
	}
	return panel(fmt.Sprintf("🖼️ Image Gallery (%d)", len(images)), lines...)
}

func renderSessions(convs []domain.Conversation) string {
	if len(convs) == 0 {
		return panel("💬 Sessions", dimStyle.Render("No conversations yet."))
	}
	lines := make([]string, 0, len(convs))
	for _, c := range convs {
		lines = append(lines, fmt.Sprintf("%-24s %s", c.ID, dimStyle.Render(c.UpdatedAt.Local().Format("2006-01-02 15:04"))))
	}
	return panel(fmt.Sprintf("💬 Sessions (%d)", len(convs)), lines...)
}

func renderAnalytics(a domain.SessionAnalytics, perf map[string]metrics.CallStats) string {
	lines := []string{
		kv("Total messages", a.TotalMessages),
		kv("Images generated", a.ImagesGenerated),
		kv("Documents processed", a.DocumentsProcessed),
		kv("Audio processed", a.AudioProcessed),
		kv("Sessions", len(a.Sessions)),
	}
	if !a.LastUpdated.IsZero() {
		lines = append(lines, kv("Last updated", a.LastUpdated.Local().Format(time.DateTime)))
	}
	out := panel("📈 Analytics", lines...)

	if len(perf) > 0 {
		names := make([]string, 0, len(perf))
		for name := range perf {
			names = append(names, name)
		}
		sort.Strings(names)
		var rows []string
		for _, name := range names {
			s := perf[name]
			rows = append(rows, fmt.Sprintf("%-12s calls=%d failed=%d avg=%.2fs", name, s.TotalCalls, s.FailedCalls, s.AvgTime))
		}
		out += "\n" + panel("⚡ Performance", rows...)
	}
	return out
}

func passLine(check, detail string) string {
	return fmt.Sprintf("  %s %-20s %s", okStyle.Render("[PASS]"), check, detail)
}

func failLine(check, detail string) string {
	return fmt.Sprintf("  %s %-20s %s", failStyle.Render("[FAIL]"), check, detail)
}

func warnLine(check, detail string) string {
	return fmt.Sprintf("  %s %-20s %s", warnStyle.Render("[WARN]"), check, detail)
}
