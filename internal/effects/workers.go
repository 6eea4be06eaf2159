package effects

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/model"
)

func (d *Dispatcher) generate(ctx context.Context, intent model.Intent) error {
	in := intent.(model.GenerateIntent)
	q := in.QuestionID

	payload, err := d.service.Generate(ctx, q)
	if err != nil {
		msg := model.ErrorMessage(err)
		d.store.Apply(state.GenerateFailed(q, msg))
		d.notify(ctx, notify.Failure(in.Kind(), q, msg))
		return err
	}

	d.questions.SetFields(ctx, q, model.QuestionFields{
		Answer:       model.StringPtr(payload.Answer()),
		AnswerID:     model.OptionalString(payload.AnswerID()),
		SubmitStatus: model.StringPtr(model.SubmitStatusProcess),
	})
	d.store.Apply(state.GenerateSucceeded(q))
	d.followUp(ctx, model.FetchVersionsIntent{QuestionID: q})
	d.notify(ctx, notify.Success(in.Kind(), q, notify.MsgGenerated))
	return nil
}

func (d *Dispatcher) update(ctx context.Context, intent model.Intent) error {
	in := intent.(model.UpdateIntent)
	q := in.QuestionID

	payload, err := d.service.UpdateAnswer(ctx, q, in.Answer)
	if err != nil {
		d.store.Apply(state.UpdateFailed(model.ErrorMessage(err)))
		return err
	}

	d.store.Apply(state.UpdateSucceeded(q))
	if payload.VersionCreated() {
		d.followUp(ctx, model.FetchVersionsIntent{QuestionID: q})
	}
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, intent model.Intent) error {
	in := intent.(model.SubmitIntent)
	q := in.QuestionID

	body := map[string]any{"answer": in.Answer}
	if _, err := d.service.Submit(ctx, q, body, model.SubmitStatusSubmitted); err != nil {
		d.store.Apply(state.SubmitFailed(q, model.ErrorMessage(err)))
		return err
	}

	d.questions.SetFields(ctx, q, model.QuestionFields{
		SubmitStatus: model.StringPtr(model.SubmitStatusSubmitted),
		IsSubmitted:  model.BoolPtr(true),
	})
	d.store.Apply(state.SubmitSucceeded(q))
	d.questions.RelistAssigned(ctx)
	return nil
}

func (d *Dispatcher) notForMe(ctx context.Context, intent model.Intent) error {
	in := intent.(model.NotForMeIntent)
	q := in.QuestionID

	if _, err := d.service.Submit(ctx, q, map[string]any{}, model.SubmitStatusNotSubmitted); err != nil {
		msg := model.ErrorMessage(err)
		d.store.Apply(state.NotForMeFailed(msg))
		d.notify(ctx, notify.Failure(in.Kind(), q, msg))
		return err
	}

	d.questions.SetFields(ctx, q, model.QuestionFields{
		Answer:       model.StringPtr(""),
		SubmitStatus: model.StringPtr(model.SubmitStatusNotSubmitted),
	})
	d.store.Apply(state.NotForMeSucceeded(q))
	d.questions.RelistAssigned(ctx)
	d.notify(ctx, notify.Success(in.Kind(), q, notify.MsgNotForMe))
	return nil
}

func (d *Dispatcher) fetchVersions(ctx context.Context, intent model.Intent) error {
	q := intent.Question()

	versions, err := d.service.ListVersions(ctx, q)
	if err != nil {
		d.store.Apply(state.VersionsFailed(q, model.ErrorMessage(err)))
		return err
	}
	if versions == nil {
		versions = []model.Version{}
	}
	d.store.Apply(state.VersionsSucceeded(q, versions))
	return nil
}

func (d *Dispatcher) analyze(ctx context.Context, intent model.Intent) error {
	in := intent.(model.AnalyzeIntent)
	q := in.QuestionID
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrRfpID.String(in.RfpID))

	res, err := d.service.Analyze(ctx, in.RfpID, q)
	if err != nil {
		d.store.Apply(state.AnalyzeFailed(q, model.ErrorMessage(err)))
		return err
	}
	d.store.Apply(state.AnalyzeSucceeded(q, res))
	return nil
}

func (d *Dispatcher) chatRefine(ctx context.Context, intent model.Intent) error {
	in := intent.(model.ChatRefineIntent)
	q := in.QuestionID

	userID := in.UserID
	if userID == "" {
		if rctx := model.RequestContextFrom(ctx); rctx != nil {
			userID = rctx.SubjectID
		}
	}

	payload, err := d.service.Chat(ctx, model.ChatRequest{
		QuestionID:  q,
		ChatMessage: in.Message,
		UserID:      userID,
	})
	if err != nil {
		msg := model.ErrorMessage(err)
		d.store.Apply(state.ChatFailed(msg))
		d.notify(ctx, notify.Failure(in.Kind(), q, msg))
		return err
	}

	if answer := payload.Answer(); answer != "" {
		d.questions.SetFields(ctx, q, model.QuestionFields{
			Answer:       model.StringPtr(answer),
			AnswerID:     model.OptionalString(payload.AnswerID()),
			SubmitStatus: model.StringPtr(model.SubmitStatusProcess),
		})
	}
	d.store.Apply(state.ChatSucceeded(q))
	d.notify(ctx, notify.Success(in.Kind(), q, notify.MsgRefined))
	return nil
}

// followUp dispatches an intent issued by a worker on the worker's context.
func (d *Dispatcher) followUp(ctx context.Context, intent model.Intent) {
	if err := d.Dispatch(ctx, intent); err != nil {
		d.logger.Error("follow-up dispatch failed", zap.String("intent", string(intent.Kind())), zap.Error(err))
	}
}
