package job

import "github.com/target/jobengine/internal/domain/model"

// AppendErrorLog adds entry to the job's error log, dropping the oldest entries beyond the cap.
func AppendErrorLog(j *model.Job, entry model.ErrorLogEntry) {
	j.ErrorLog = append(j.ErrorLog, entry)
	if over := len(j.ErrorLog) - model.MaxErrorLogEntries; over > 0 {
		kept := make([]model.ErrorLogEntry, model.MaxErrorLogEntries)
		copy(kept, j.ErrorLog[over:])
		j.ErrorLog = kept
	}
}
