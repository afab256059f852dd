package docservice

import (
	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/models"
	"github.com/starford/annostore/internal/session"
	"github.com/starford/annostore/internal/store"
)

// View converts an annotation into its JSON representation.
func View(a annotation.Annotation, line int) models.Annotation {
	out := models.Annotation{Kind: string(a.Kind()), Line: line, Raw: a.String()}
	if id, ok := a.(annotation.Identified); ok {
		out.ID = id.ID().String()
	}
	switch v := a.(type) {
	case *annotation.TextBound:
		start, end := v.Start, v.End
		out.Type, out.Start, out.End, out.Text = v.Type, &start, &end, v.Text()
	case *annotation.Event:
		out.Type, out.Trigger = v.Type, v.Trigger.String()
		out.Args = make([]models.Arg, len(v.Args))
		for i, arg := range v.Args {
			out.Args[i] = models.Arg{Role: arg.Role, Target: arg.Target.String()}
		}
	case *annotation.Modifier:
		out.Type, out.Target = v.Type, v.Target.String()
	case *annotation.Equiv:
		out.Type = v.Type
		for _, id := range v.Entities {
			out.Entities = append(out.Entities, id.String())
		}
	case *annotation.Note:
		out.Type, out.Target, out.Text = v.Type, v.Target.String(), v.Text()
	}
	return out
}

func documentView(sess *session.Session) *models.Document {
	doc := &models.Document{
		Ref:         sess.Ref(),
		ReadOnly:    sess.ReadOnly(),
		Checksum:    sess.Checksum(),
		FailedLines: sess.FailedLines(),
		Annotations: []models.Annotation{},
	}
	if doc.FailedLines == nil {
		doc.FailedLines = []int{}
	}
	line := 0
	for a := range sess.All() {
		doc.Annotations = append(doc.Annotations, View(a, line))
		line++
	}
	return doc
}

func changeViews(changes []store.Change, sessionID string) []models.Change {
	out := make([]models.Change, len(changes))
	for i, c := range changes {
		out[i] = models.Change{Kind: string(c.Kind), SessionID: sessionID}
		if c.Before != nil {
			out[i].Before = c.Before.String()
		}
		if c.After != nil {
			out[i].After = c.After.String()
		}
	}
	return out
}
