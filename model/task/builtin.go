package task

import (
	"context"
	"fmt"
	"time"
)

// Type ids of the built-in tasks.
const (
	LogTaskID         = "veltis.LogTask"
	SleepTaskID       = "veltis.SleepTask"
	FormulaTaskID     = "veltis.FormulaTask"
	ConditionalTaskID = "veltis.ConditionalTask"
	LoopTaskID        = "veltis.LoopTask"
)

// LogTask resolves a message template and hands it to the root logger,
// keeping the last message in the database.
type LogTask struct {
	SimpleTask
	Message string
}

func NewLogTask(name string) *LogTask {
	t := &LogTask{}
	Init(t, name, LogTaskID)
	t.setDefaults()
	return t
}

func (t *LogTask) setDefaults() {
	t.Entries["message"] = ""
}

func (t *LogTask) Fields() []Field {
	return []Field{
		{Name: "message", Kind: FieldFormat, Entry: "message",
			Get: func() string { return t.Message },
			Set: func(v string) { t.Message = v }},
	}
}

func (t *LogTask) Perform(ctx context.Context) error {
	msg, err := t.FormatString(t.Message)
	if err != nil {
		return err
	}
	if err := t.WriteInDatabase("message", msg); err != nil {
		return err
	}
	t.root.Logger().Info(msg, loggerFields(t)...)
	return nil
}

// SleepTask pauses the sequence for an evaluated number of seconds.
type SleepTask struct {
	SimpleTask
	Duration string
}

func NewSleepTask(name string) *SleepTask {
	t := &SleepTask{}
	Init(t, name, SleepTaskID)
	t.setDefaults()
	return t
}

func (t *SleepTask) setDefaults() {
	t.Duration = "1"
	t.Entries["duration"] = 1.0
}

func (t *SleepTask) Fields() []Field {
	return []Field{
		{Name: "duration", Kind: FieldEval, Entry: "duration",
			Get: func() string { return t.Duration },
			Set: func(v string) { t.Duration = v }},
	}
}

func (t *SleepTask) Perform(ctx context.Context) error {
	v, err := t.FormatAndEval(t.Duration)
	if err != nil {
		return err
	}
	seconds, ok := asFloat(v)
	if !ok || seconds < 0 {
		return fmt.Errorf("task %q: duration %v is not a positive number", t.name, v)
	}
	if err := t.WriteInDatabase("duration", seconds); err != nil {
		return err
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FormulaTask evaluates an expression and stores the result.
type FormulaTask struct {
	SimpleTask
	Formula string
}

func NewFormulaTask(name string) *FormulaTask {
	t := &FormulaTask{}
	Init(t, name, FormulaTaskID)
	t.setDefaults()
	return t
}

func (t *FormulaTask) setDefaults() {
	t.Entries["result"] = 0.0
}

func (t *FormulaTask) Fields() []Field {
	return []Field{
		{Name: "formula", Kind: FieldEval, Entry: "result",
			Get: func() string { return t.Formula },
			Set: func(v string) { t.Formula = v }},
	}
}

func (t *FormulaTask) Perform(ctx context.Context) error {
	v, err := t.FormatAndEval(t.Formula)
	if err != nil {
		return err
	}
	return t.WriteInDatabase("result", v)
}

// ConditionalTask performs its children only when its condition evaluates to
// a truthy value.
type ConditionalTask struct {
	ComplexTask
	Condition string
}

func NewConditionalTask(name string) *ConditionalTask {
	t := &ConditionalTask{}
	Init(t, name, ConditionalTaskID)
	t.setDefaults()
	return t
}

func (t *ConditionalTask) setDefaults() {}

func (t *ConditionalTask) Fields() []Field {
	return []Field{
		{Name: "condition", Kind: FieldEval,
			Get: func() string { return t.Condition },
			Set: func(v string) { t.Condition = v }},
	}
}

func (t *ConditionalTask) Perform(ctx context.Context) error {
	v, err := t.FormatAndEval(t.Condition)
	if err != nil {
		return err
	}
	if !truthy(v) {
		return nil
	}
	return t.ComplexTask.Perform(ctx)
}

// LoopTask performs its children for every point of an evaluated linear
// range, exposing the current index and value through the database.
type LoopTask struct {
	ComplexTask
	Start string
	Stop  string
	Step  string
}

func NewLoopTask(name string) *LoopTask {
	t := &LoopTask{}
	Init(t, name, LoopTaskID)
	t.setDefaults()
	return t
}

func (t *LoopTask) setDefaults() {
	t.Start = "0"
	t.Stop = "1"
	t.Step = "1"
	t.Entries["index"] = 0
	t.Entries["value"] = 0.0
}

func (t *LoopTask) Fields() []Field {
	return []Field{
		{Name: "start", Kind: FieldEval,
			Get: func() string { return t.Start },
			Set: func(v string) { t.Start = v }},
		{Name: "stop", Kind: FieldEval,
			Get: func() string { return t.Stop },
			Set: func(v string) { t.Stop = v }},
		{Name: "step", Kind: FieldEval,
			Get: func() string { return t.Step },
			Set: func(v string) { t.Step = v }},
	}
}

func (t *LoopTask) bounds() (start, stop, step float64, err error) {
	for _, item := range []struct {
		template string
		dst      *float64
	}{{t.Start, &start}, {t.Stop, &stop}, {t.Step, &step}} {
		v, evalErr := t.FormatAndEval(item.template)
		if evalErr != nil {
			return 0, 0, 0, evalErr
		}
		f, ok := asFloat(v)
		if !ok {
			return 0, 0, 0, fmt.Errorf("task %q: %v is not a number", t.name, v)
		}
		*item.dst = f
	}
	if step == 0 {
		return 0, 0, 0, fmt.Errorf("task %q: step must not be zero", t.name)
	}
	return start, stop, step, nil
}

func (t *LoopTask) Check(ctx context.Context) (bool, map[string]string) {
	ok, traceback := t.ComplexTask.Check(ctx)
	if _, _, _, err := t.bounds(); err != nil {
		traceback[t.path+"/"+t.name+"-range"] = err.Error()
		ok = false
	}
	return ok, traceback
}

func (t *LoopTask) Perform(ctx context.Context) error {
	start, stop, step, err := t.bounds()
	if err != nil {
		return err
	}
	index := 0
	for value := start; (step > 0 && value <= stop) || (step < 0 && value >= stop); value += step {
		if t.root.ShouldStop.IsSet() {
			return nil
		}
		if err := t.WriteInDatabase("index", index); err != nil {
			return err
		}
		if err := t.WriteInDatabase("value", value); err != nil {
			return err
		}
		if err := t.ComplexTask.Perform(ctx); err != nil {
			return err
		}
		index++
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	default:
		if f, ok := asFloat(v); ok {
			return f != 0
		}
		return true
	}
}
