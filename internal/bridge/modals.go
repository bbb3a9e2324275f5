package bridge

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

// Modal callback IDs.
const (
	callbackQuestion = "question_submit"
	callbackReject   = "reject_reason"
	callbackAnswer   = "answer_question"
	callbackModify   = "modify_question"
)

// Question form block and action IDs.
const (
	blockPatientID  = "patient_id_block"
	actionPatientID = "patient_id"
	blockCategory   = "question_type_block"
	actionCategory  = "question_type"
	blockDoctorName = "doctor_name_block"
	actionDoctorNm  = "doctor_name"
	blockDoctorID   = "doctor_id_block"
	actionDoctorID  = "doctor_id"
	blockUrgency    = "urgency_block"
	actionUrgency   = "urgency"
	blockContent    = "question_content_block"
	actionContent   = "question_content"

	blockReason  = "reason_block"
	actionReason = "reason_input"
	blockAnswer  = "answer_block"
	actionAnswer = "answer_input"
	blockModify  = "modify_block"
	actionModify = "modify_input"
)

// Draft is the partially filled question form, kept per user so a closed
// modal can be reopened with its contents.
type Draft struct {
	PatientID  string
	Category   string
	DoctorName string
	DoctorID   string
	Urgency    string
	Content    string
}

// Empty reports whether nothing was entered. Urgency is prefilled by the
// form, so it does not count.
func (d Draft) Empty() bool {
	d.Urgency = ""
	return d == Draft{}
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func selectElement(actionID, placeholder string, opts []store.Option, initial string) *slack.SelectBlockElement {
	objs := make([]*slack.OptionBlockObject, 0, len(opts))
	var selected *slack.OptionBlockObject
	for _, o := range opts {
		obj := slack.NewOptionBlockObject(o.Value, plain(o.Label), nil)
		if o.Value == initial {
			selected = obj
		}
		objs = append(objs, obj)
	}
	el := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain(placeholder), actionID, objs...)
	if selected != nil {
		el.InitialOption = selected
	}
	return el
}

func textElement(actionID, placeholder, initial string, multiline bool) *slack.PlainTextInputBlockElement {
	el := slack.NewPlainTextInputBlockElement(plain(placeholder), actionID)
	el.Multiline = multiline
	el.InitialValue = initial
	return el
}

// questionModal builds the submission form, prefilled from d.
func questionModal(d Draft, originChannel string) slack.ModalViewRequest {
	urgency := d.Urgency
	if urgency == "" {
		urgency = "normal"
	}

	doctorName := slack.NewInputBlock(blockDoctorName, plain("医師名"), nil,
		textElement(actionDoctorNm, "例: 山田 太郎", d.DoctorName, false))
	doctorName.Optional = true

	blocks := slack.Blocks{
		BlockSet: []slack.Block{
			slack.NewInputBlock(blockPatientID, plain("患者ID"), nil,
				textElement(actionPatientID, "例: P-12345", d.PatientID, false)),
			slack.NewInputBlock(blockCategory, plain("質問種別"), nil,
				selectElement(actionCategory, "種別を選択", store.Categories, d.Category)),
			doctorName,
			slack.NewInputBlock(blockDoctorID, plain("医師ID"),
				plain("チャンネル d<番号>_<医師ID>_… または <医師ID>_info に送信されます"),
				textElement(actionDoctorID, "例: 999", d.DoctorID, false)),
			slack.NewInputBlock(blockUrgency, plain("緊急度"), nil,
				selectElement(actionUrgency, "緊急度を選択", store.Urgencies, urgency)),
			slack.NewInputBlock(blockContent, plain("質問内容"), nil,
				textElement(actionContent, "質問内容を入力してください", d.Content, true)),
		},
	}

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		Title:           plain("医師への質問"),
		Submit:          plain("送信"),
		Close:           plain("キャンセル"),
		Blocks:          blocks,
		CallbackID:      callbackQuestion,
		PrivateMetadata: originChannel,
		NotifyOnClose:   true,
	}
}

// parseDraft reads the question form state. Missing blocks yield empty fields.
func parseDraft(view slack.View) Draft {
	if view.State == nil {
		return Draft{}
	}
	values := view.State.Values
	text := func(block, action string) string {
		return strings.TrimSpace(values[block][action].Value)
	}
	selected := func(block, action string) string {
		return values[block][action].SelectedOption.Value
	}
	return Draft{
		PatientID:  text(blockPatientID, actionPatientID),
		Category:   selected(blockCategory, actionCategory),
		DoctorName: text(blockDoctorName, actionDoctorNm),
		DoctorID:   text(blockDoctorID, actionDoctorID),
		Urgency:    selected(blockUrgency, actionUrgency),
		Content:    text(blockContent, actionContent),
	}
}

// validateDraft returns per-block errors for a view_submission "errors"
// response, or nil when the form is complete.
func validateDraft(d Draft) map[string]string {
	errs := map[string]string{}
	if d.PatientID == "" {
		errs[blockPatientID] = "患者IDを入力してください"
	}
	if d.Category == "" {
		errs[blockCategory] = "質問種別を選択してください"
	}
	if d.DoctorID == "" {
		errs[blockDoctorID] = "医師IDを入力してください"
	} else if strings.ContainsAny(d.DoctorID, " \t\n") {
		errs[blockDoctorID] = "医師IDに空白は使用できません"
	}
	if d.Content == "" {
		errs[blockContent] = "質問内容を入力してください"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// actionMetadata is carried through follow-up modals as
// questionID|channelID|messageTS.
type actionMetadata struct {
	QuestionID string
	ChannelID  string
	MessageTS  string
}

func (m actionMetadata) String() string {
	return fmt.Sprintf("%s|%s|%s", m.QuestionID, m.ChannelID, m.MessageTS)
}

func parseActionMetadata(s string) (actionMetadata, bool) {
	parts := strings.SplitN(s, "|", 3)
	if parts[0] == "" {
		return actionMetadata{}, false
	}
	m := actionMetadata{QuestionID: parts[0]}
	if len(parts) == 3 {
		m.ChannelID, m.MessageTS = parts[1], parts[2]
	}
	return m, true
}

// textInputModal builds the single-field modals used by reject, answer and
// modify.
func textInputModal(callbackID, title, submit, summary, block, action, label, initial string, meta actionMetadata) slack.ModalViewRequest {
	blocks := slack.Blocks{
		BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn(summary), nil, nil),
			slack.NewDividerBlock(),
			slack.NewInputBlock(block, plain(label), nil,
				textElement(action, label, initial, true)),
		},
	}
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		Title:           plain(title),
		Submit:          plain(submit),
		Close:           plain("キャンセル"),
		Blocks:          blocks,
		CallbackID:      callbackID,
		PrivateMetadata: meta.String(),
	}
}

func inputValue(view slack.View, block, action string) string {
	if view.State == nil {
		return ""
	}
	return strings.TrimSpace(view.State.Values[block][action].Value)
}
