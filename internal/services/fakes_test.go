package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
)

const (
	labelInQueue = "Label_in_queue"
	labelDone    = "Label_done"
)

type fakeMailbox struct {
	mu          sync.Mutex
	messages    map[string]*models.Message
	bodies      map[string]string // messageID/attachmentID -> encoded body
	labels      map[string]string
	failGet     map[string]bool
	failAttach  map[string]bool
	failAck     map[string]bool
	listErr     error
	transitions []string

	onAttachment func()
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:   make(map[string]*models.Message),
		bodies:     make(map[string]string),
		labels:     make(map[string]string),
		failGet:    make(map[string]bool),
		failAttach: make(map[string]bool),
		failAck:    make(map[string]bool),
	}
}

// add queues a message whose attachments are given as filename/content pairs.
func (m *fakeMailbox) add(id, threadID string, files ...string) {
	msg := &models.Message{ID: id, ThreadID: threadID, Subject: "NF-e " + id}
	for i := 0; i+1 < len(files); i += 2 {
		attID := fmt.Sprintf("att-%d", i/2)
		msg.Attachments = append(msg.Attachments, models.AttachmentRef{
			AttachmentID: attID,
			Filename:     files[i],
			Size:         int64(len(files[i+1])),
		})
		m.bodies[id+"/"+attID] = base64.URLEncoding.EncodeToString([]byte(files[i+1]))
	}
	m.messages[id] = msg
	m.labels[id] = labelInQueue
}

func (m *fakeMailbox) ListCandidates(_ context.Context, label, _ string, limit int) ([]models.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var refs []models.MessageRef
	for id, l := range m.labels {
		if l == label {
			refs = append(refs, models.MessageRef{ID: id, ThreadID: m.messages[id].ThreadID})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID > refs[j].ID })
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (m *fakeMailbox) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet[id] {
		return nil, errors.New("gmail: 503 backend error")
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	cp := *msg
	return &cp, nil
}

func (m *fakeMailbox) GetAttachment(_ context.Context, messageID string, ref models.AttachmentRef) (*models.RawAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onAttachment != nil {
		m.onAttachment()
	}
	if m.failAttach[messageID] {
		return nil, errors.New("gmail: connection reset")
	}
	return &models.RawAttachment{
		MessageID:   messageID,
		Filename:    ref.Filename,
		EncodedBody: m.bodies[messageID+"/"+ref.AttachmentID],
	}, nil
}

func (m *fakeMailbox) TransitionLabel(_ context.Context, id, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAck[id] {
		return errors.New("gmail: 500 internal error")
	}
	if m.labels[id] != from {
		return fmt.Errorf("message %s is not labelled %s", id, from)
	}
	m.labels[id] = to
	m.transitions = append(m.transitions, id)
	return nil
}

func (m *fakeMailbox) labelOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labels[id]
}

// fakeWarehouse is both the sink and the dedup guard, backed by the same rows.
type fakeWarehouse struct {
	mu         sync.Mutex
	headers    []models.InvoiceHeader
	lines      []models.InvoiceLine
	calls      []string
	failLines  error
	failHeader error
	existsErr  error
}

func (w *fakeWarehouse) InsertLines(_ context.Context, lines []models.InvoiceLine) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "lines")
	if w.failLines != nil {
		return w.failLines
	}
	w.lines = append(w.lines, lines...)
	return nil
}

func (w *fakeWarehouse) InsertHeaders(_ context.Context, headers []models.InvoiceHeader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "headers")
	if w.failHeader != nil {
		return w.failHeader
	}
	w.headers = append(w.headers, headers...)
	return nil
}

func (w *fakeWarehouse) Exists(_ context.Context, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.existsErr != nil {
		return false, w.existsErr
	}
	for _, h := range w.headers {
		if h.DocumentID == id {
			return true, nil
		}
	}
	return false, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *fakeNotifier) joined() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.messages, "\n")
}

type fakeArchiver struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (a *fakeArchiver) ArchiveDocument(_ context.Context, id string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = make(map[string][]byte)
	}
	a.saved[id] = data
	return nil
}

type fakeLock struct {
	held     bool
	released bool
}

func (l *fakeLock) Acquire(_ context.Context, _, _ string, _ time.Duration) error {
	if l.held {
		return ErrRunLocked
	}
	l.held = true
	return nil
}

func (l *fakeLock) Release(_ context.Context, _, _ string) error {
	l.held = false
	l.released = true
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses []string
	last     models.Run
}

func (l *fakeLedger) Record(_ context.Context, run models.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, run.Status)
	l.last = run
	return nil
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *steppingClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func invoiceXML(id, supplier, item, total string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe versao="4.00" Id="` + id + `">
      <ide><dhEmi>2024-03-15T10:30:00-03:00</dhEmi></ide>
      <emit><CNPJ>12345678000190</CNPJ><xNome>` + supplier + `</xNome></emit>
      <det nItem="1"><prod><cProd>` + item + `</cProd><xProd>Item ` + item + `</xProd><CFOP>5102</CFOP><uCom>UN</uCom><qCom>1</qCom><vUnCom>` + total + `</vUnCom><vProd>` + total + `</vProd></prod></det>
      <total><ICMSTot><vNF>` + total + `</vNF></ICMSTot></total>
      <cobr><dup><dVenc>2024-04-15</dVenc></dup></cobr>
    </infNFe>
  </NFe>
</nfeProc>`
}

const eventXML = `<?xml version="1.0" encoding="UTF-8"?>
<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">
  <evento><infEvento Id="ID110111NFe123"><tpEvento>110111</tpEvento></infEvento></evento>
</procEventoNFe>`
