package logger

import (
	"github.com/sirupsen/logrus"
)

// AuditLogger records gate-relevant transitions. Key material never reaches it:
// callers pass key ids and prefixes only.
type AuditLogger struct {
	*logrus.Entry
}

func NewAuditLogger(base *logrus.Logger) *AuditLogger {
	return &AuditLogger{Entry: base.WithField("component", "audit")}
}

// LogPolicyDecision logs the final decision for a run.
func (al *AuditLogger) LogPolicyDecision(tenantID, runID, profile, rule, decision string) {
	al.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"run_id":    runID,
		"profile":   profile,
		"rule":      rule,
		"decision":  decision,
	}).Info("Policy decision recorded")
}

// LogReviewDecision logs a trader or agent decision submission.
func (al *AuditLogger) LogReviewDecision(runID, reviewerType, reviewerID, action string, accepted bool) {
	al.WithFields(logrus.Fields{
		"run_id":        runID,
		"reviewer_type": reviewerType,
		"reviewer_id":   reviewerID,
		"action":        action,
		"accepted":      accepted,
	}).Info("Review decision submitted")
}

// LogKeyEvent logs a bot key lifecycle event.
func (al *AuditLogger) LogKeyEvent(event, botID, keyID, keyPrefix string) {
	al.WithFields(logrus.Fields{
		"event":      event,
		"bot_id":     botID,
		"key_id":     keyID,
		"key_prefix": keyPrefix,
	}).Info("Bot key event")
}

// LogReplayGate logs a replay gate evaluation.
func (al *AuditLogger) LogReplayGate(replayID, baselineID, candidateRunID, decision string, deltaPct, thresholdPct float64) {
	al.WithFields(logrus.Fields{
		"replay_id":        replayID,
		"baseline_id":      baselineID,
		"candidate_run_id": candidateRunID,
		"decision":         decision,
		"delta_pct":        deltaPct,
		"threshold_pct":    thresholdPct,
	}).Info("Replay gate evaluated")
}

// LogShareEvent logs invite lifecycle transitions.
func (al *AuditLogger) LogShareEvent(event, runID, inviteID, permission string) {
	al.WithFields(logrus.Fields{
		"event":      event,
		"run_id":     runID,
		"invite_id":  inviteID,
		"permission": permission,
	}).Info("Share event")
}
