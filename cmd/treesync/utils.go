package main

import "github.com/charmbracelet/lipgloss"

var (
	red  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	gray = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)
