// Package ui holds the lipgloss styles shared by CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderDim(s string) string    { return dimStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }
