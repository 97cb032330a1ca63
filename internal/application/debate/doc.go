// Package debate holds structured technical debates between models of
// different teams.
//
// Round 1 collects each participant's opening position. Every later
// round shows each speaker the others' recent messages and records whom
// it agrees or disagrees with, either from the executor's structured
// output or from the wording of its reply. After each discussion round
// the moderator checks for consensus: agreements must outnumber
// disagreements. A debate that reaches its round limit ends with a
// forced synthesis instead.
package debate
