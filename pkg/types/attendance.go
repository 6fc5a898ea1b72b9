package types

// PairAttendance folds the append-only attendance log into join/leave
// records. A leave without an open join is ignored; a join while one is
// already open closes nothing and starts a new record.
func PairAttendance(events []AttendanceEvent) []AttendanceRecord {
	records := make([]AttendanceRecord, 0, len(events))
	open := make(map[string]int)

	for _, ev := range events {
		switch ev.Kind {
		case AttendanceJoined:
			records = append(records, AttendanceRecord{
				ParticipantID: ev.ParticipantID,
				JoinedAt:      ev.At,
			})
			open[ev.ParticipantID] = len(records) - 1
		case AttendanceLeft:
			idx, ok := open[ev.ParticipantID]
			if !ok {
				continue
			}
			left := ev.At
			records[idx].LeftAt = &left
			delete(open, ev.ParticipantID)
		}
	}
	return records
}
