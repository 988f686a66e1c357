// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"time"

	"github.com/jeranaias/innerguide/internal/model"
)

// DayGroup is the turns of one calendar day.
type DayGroup struct {
	// Day is local midnight of the group's date
	Day   time.Time
	Turns []model.Turn
}

// Label returns "Today", "Yesterday" or the date relative to now.
func (g DayGroup) Label(now time.Time) string {
	today := startOfDay(now.In(g.Day.Location()))
	switch {
	case g.Day.Equal(today):
		return "Today"
	case g.Day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case g.Day.Year() == today.Year():
		return g.Day.Format("Mon, Jan 2")
	default:
		return g.Day.Format("Jan 2, 2006")
	}
}

// GroupByDay buckets turns by calendar day in loc, newest day first.
// Turns within a day keep their input order.
func GroupByDay(turns []model.Turn, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	index := make(map[time.Time]int)
	for _, t := range turns {
		day := startOfDay(t.CreatedAt.In(loc))
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DayGroup{Day: day})
		}
		groups[i].Turns = append(groups[i].Turns, t)
	}

	// Insertion sort; day count is small.
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j].Day.After(groups[j-1].Day); j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
	return groups
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
