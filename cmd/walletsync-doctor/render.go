package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/goliatone/go-walletsync/doctor"
)

type palette struct {
	heading lipgloss.Style
	name    lipgloss.Style
	detail  lipgloss.Style
	status  map[doctor.Status]lipgloss.Style
}

func newPalette(color bool) palette {
	p := palette{
		heading: lipgloss.NewStyle().Bold(true),
		name:    lipgloss.NewStyle().Width(44),
		detail:  lipgloss.NewStyle(),
		status: map[doctor.Status]lipgloss.Style{
			doctor.StatusOK:   lipgloss.NewStyle().Width(6),
			doctor.StatusWarn: lipgloss.NewStyle().Width(6),
			doctor.StatusFail: lipgloss.NewStyle().Width(6),
		},
	}
	if !color {
		return p
	}
	p.heading = p.heading.Foreground(lipgloss.Color("255"))
	p.detail = p.detail.Foreground(lipgloss.Color("245"))
	p.status[doctor.StatusOK] = p.status[doctor.StatusOK].Foreground(lipgloss.Color("42"))
	p.status[doctor.StatusWarn] = p.status[doctor.StatusWarn].Foreground(lipgloss.Color("214"))
	p.status[doctor.StatusFail] = p.status[doctor.StatusFail].Foreground(lipgloss.Color("196")).Bold(true)
	return p
}

// render writes one block per section followed by a summary line.
func render(w io.Writer, report doctor.Report, color bool) error {
	p := newPalette(color)
	var b strings.Builder
	for _, section := range report.Sections {
		b.WriteString(p.heading.Render(strings.ReplaceAll(section.Name, "_", " ")))
		b.WriteString("\n")
		for _, check := range section.Checks {
			b.WriteString("  ")
			b.WriteString(p.status[check.Status].Render(strings.ToUpper(string(check.Status))))
			b.WriteString(p.name.Render(check.Name))
			b.WriteString(p.detail.Render(check.Detail))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	summary := fmt.Sprintf("%s: %d failures, %d warnings", strings.ToUpper(string(report.Status)), report.Failures, report.Warnings)
	b.WriteString(p.status[report.Status].UnsetWidth().Render(summary))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
