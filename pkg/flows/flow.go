package flows

import "time"

// OnConfigUpdate notifies every step whose config topics match message's
// topic (spec §4.4: "`onConfigUpdate(message)` ... invoked when a message
// arrives on a topic matching the step's configured `config_topics`").
// A step failure is isolated: it does not prevent later steps from being
// notified (spec §4.4 "Script failure isolation").
func (f *Flow) OnConfigUpdate(stats *Counter, message Message) []error {
	var errs []error
	for _, step := range f.Steps {
		if !step.ConfigTopics.AcceptTopicName(message.Topic) {
			continue
		}
		if err := step.Script.OnConfigUpdate(message); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// OnMessage applies every incoming message to a flow's step chain in
// declared order (spec §4.4 rule 1: "the input for step k+1 is the output
// sequence of step k"). config updates are delivered first, mirroring the
// original's on_message calling on_config_update before checking the input
// filter. A message not matching the flow's own input filter produces no
// output but config updates still ran (spec §4.4 rule 3 and the original's
// on_config_update-before-filter ordering).
func (f *Flow) OnMessage(stats *Counter, timestamp time.Time, message Message) ([]Message, []error) {
	var errs []error
	if e := f.OnConfigUpdate(stats, message); len(e) > 0 {
		errs = append(errs, e...)
	}
	if !f.InputTopics.AcceptTopicName(message.Topic) {
		return nil, errs
	}

	startedAt := stats.FlowOnMessageStarted()
	messages := []Message{message}
	for _, step := range f.Steps {
		script := step.Script.Path()
		var next []Message
		for _, m := range messages {
			stepStart := stats.StepStarted()
			out, err := step.Script.OnMessage(timestamp, m)
			if err != nil {
				stats.StepFailed(script, "onMessage")
				errs = append(errs, err)
				continue
			}
			stats.StepDone(script, "onMessage", stepStart, len(out))
			next = append(next, out...)
		}
		messages = next
	}
	stats.FlowOnMessageDone(f.Source, startedAt, len(messages))
	return messages, errs
}

// OnInterval applies a periodic tick to the flow's step chain (spec §4.4
// rule 2: messages produced upstream this tick are run through a step's
// onMessage before that step's own onInterval fires, so a downstream
// aggregation sees this instant's upstream output).
func (f *Flow) OnInterval(stats *Counter, timestamp time.Time) ([]Message, []error) {
	var errs []error
	startedAt := stats.FlowOnIntervalStarted()
	var messages []Message

	for _, step := range f.Steps {
		script := step.Script.Path()
		var next []Message

		for _, m := range messages {
			stepStart := stats.StepStarted()
			out, err := step.Script.OnMessage(timestamp, m)
			if err != nil {
				stats.StepFailed(script, "onMessage")
				errs = append(errs, err)
				continue
			}
			stats.StepDone(script, "onMessage", stepStart, len(out))
			next = append(next, out...)
		}

		if TickNow(timestamp, step.Script.TickEverySeconds) {
			tickStart := stats.StepStarted()
			tickOut, err := step.Script.OnInterval(timestamp)
			if err != nil {
				stats.StepFailed(script, "onInterval")
				errs = append(errs, err)
			} else {
				stats.StepDone(script, "onInterval", tickStart, len(tickOut))
				next = append(next, tickOut...)
			}
		}

		messages = next
	}

	stats.FlowOnIntervalDone(f.Source, startedAt, len(messages))
	return messages, errs
}

// TickNow reports whether a step configured with tickEverySeconds should
// fire at the given wall-clock second, per spec §4.4's modular alignment:
// "a step ticks whenever floor(now_seconds) mod period == 0".
func TickNow(now time.Time, tickEverySeconds uint64) bool {
	if tickEverySeconds == 0 {
		return false
	}
	return uint64(now.Unix())%tickEverySeconds == 0
}
