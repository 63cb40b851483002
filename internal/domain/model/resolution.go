package model

import "sort"

// Resolution is one rung of the adaptive bitrate ladder.
type Resolution struct {
	// Name is the label used in requests and storage (e.g. "720p").
	Name   string
	Width  int
	Height int
	// Bitrate is the target video bitrate in bits per second.
	Bitrate int
}

var resolutionLadder = []Resolution{
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 5000000},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 2500000},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 1200000},
	{Name: "360p", Width: 640, Height: 360, Bitrate: 800000},
	{Name: "240p", Width: 426, Height: 240, Bitrate: 400000},
}

// LookupResolution returns the ladder entry for a label.
func LookupResolution(name string) (Resolution, bool) {
	for _, r := range resolutionLadder {
		if r.Name == name {
			return r, true
		}
	}
	return Resolution{}, false
}

// Resolutions returns a copy of the full ladder, highest first.
func Resolutions() []Resolution {
	out := make([]Resolution, len(resolutionLadder))
	copy(out, resolutionLadder)
	return out
}

// SortResolutionNames orders labels from lowest to highest height.
// Unknown labels sort last, alphabetically.
func SortResolutionNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ri, iok := LookupResolution(names[i])
		rj, jok := LookupResolution(names[j])
		switch {
		case iok && jok:
			return ri.Height < rj.Height
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
}
