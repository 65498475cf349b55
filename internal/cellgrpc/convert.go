package cellgrpc

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/cellx/schema"
)

// Byte payloads travel base64 encoded because structpb strings must be UTF-8.

func runRequestToStruct(id schema.CellID, req schema.RunCellRequest) (*structpb.Struct, error) {
	args := make([]any, 0, len(req.Args))
	for _, arg := range req.Args {
		args = append(args, arg)
	}
	return structpb.NewStruct(map[string]any{
		"id":          string(id),
		"input":       req.Input,
		"args":        args,
		"current_dir": req.CurrentDir,
	})
}

func runRequestFromStruct(in *structpb.Struct) (schema.CellProps, error) {
	if in == nil {
		return schema.CellProps{}, fmt.Errorf("%w: missing run request", schema.ErrInvalidRequest)
	}
	fields := in.GetFields()
	props := schema.CellProps{
		ID:         schema.CellID(fields["id"].GetStringValue()),
		Input:      fields["input"].GetStringValue(),
		CurrentDir: fields["current_dir"].GetStringValue(),
	}
	for _, v := range fields["args"].GetListValue().GetValues() {
		props.Args = append(props.Args, v.GetStringValue())
	}
	return props, nil
}

func frontendToStruct(msg schema.FrontendMessage) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type": string(msg.Type),
		"data": base64.StdEncoding.EncodeToString(msg.Data),
		"cols": msg.Cols,
		"rows": msg.Rows,
	})
}

func frontendFromStruct(in *structpb.Struct) (schema.FrontendMessage, error) {
	fields := in.GetFields()
	msg := schema.FrontendMessage{
		Type: schema.FrontendMessageType(fields["type"].GetStringValue()),
		Cols: int(fields["cols"].GetNumberValue()),
		Rows: int(fields["rows"].GetNumberValue()),
	}
	switch msg.Type {
	case schema.FrontendInput, schema.FrontendInterrupt, schema.FrontendResize:
	default:
		return schema.FrontendMessage{}, fmt.Errorf("%w: unknown frontend message type %q", schema.ErrInvalidRequest, msg.Type)
	}
	data, err := decodeData(fields["data"].GetStringValue())
	if err != nil {
		return schema.FrontendMessage{}, err
	}
	msg.Data = data
	return msg, nil
}

func serverToStruct(msg schema.ServerMessage) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":      string(msg.Type),
		"cell_id":   string(msg.CellID),
		"seq":       float64(msg.Seq),
		"data":      base64.StdEncoding.EncodeToString(msg.Data),
		"stream":    string(msg.Stream),
		"state":     string(msg.State),
		"dir":       msg.Dir,
		"exit_code": msg.ExitCode,
		"kind":      msg.Kind,
		"message":   msg.Message,
	})
}

func serverFromStruct(in *structpb.Struct) (schema.ServerMessage, error) {
	fields := in.GetFields()
	data, err := decodeData(fields["data"].GetStringValue())
	if err != nil {
		return schema.ServerMessage{}, err
	}
	return schema.ServerMessage{
		Type:     schema.ServerMessageType(fields["type"].GetStringValue()),
		CellID:   schema.CellID(fields["cell_id"].GetStringValue()),
		Seq:      uint64(fields["seq"].GetNumberValue()),
		Data:     data,
		Stream:   schema.StreamKind(fields["stream"].GetStringValue()),
		State:    schema.CellState(fields["state"].GetStringValue()),
		Dir:      fields["dir"].GetStringValue(),
		ExitCode: int(fields["exit_code"].GetNumberValue()),
		Kind:     fields["kind"].GetStringValue(),
		Message:  fields["message"].GetStringValue(),
	}, nil
}

func snapshotsToStruct(snaps []schema.CellSnapshot) (*structpb.Struct, error) {
	cells := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		cells = append(cells, map[string]any{
			"id":          string(snap.Props.ID),
			"input":       snap.Props.Input,
			"current_dir": snap.Props.CurrentDir,
			"kind":        snap.Kind,
			"state":       string(snap.State),
			"exit_code":   snap.ExitCode,
		})
	}
	return structpb.NewStruct(map[string]any{"cells": cells})
}

func snapshotsFromStruct(in *structpb.Struct) []schema.CellSnapshot {
	values := in.GetFields()["cells"].GetListValue().GetValues()
	out := make([]schema.CellSnapshot, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		out = append(out, schema.CellSnapshot{
			Props: schema.CellProps{
				ID:         schema.CellID(f["id"].GetStringValue()),
				Input:      f["input"].GetStringValue(),
				CurrentDir: f["current_dir"].GetStringValue(),
			},
			Kind:     f["kind"].GetStringValue(),
			State:    schema.CellState(f["state"].GetStringValue()),
			ExitCode: int(f["exit_code"].GetNumberValue()),
		})
	}
	return out
}

func suggestRequestToStruct(req schema.SuggestRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"input":       req.Input,
		"current_dir": req.CurrentDir,
		"limit":       req.Limit,
	})
}

func suggestRequestFromStruct(in *structpb.Struct) schema.SuggestRequest {
	f := in.GetFields()
	return schema.SuggestRequest{
		Input:      f["input"].GetStringValue(),
		CurrentDir: f["current_dir"].GetStringValue(),
		Limit:      int(f["limit"].GetNumberValue()),
	}
}

func suggestionsToStruct(items []schema.Suggestion) (*structpb.Struct, error) {
	list := make([]any, 0, len(items))
	for _, s := range items {
		list = append(list, map[string]any{
			"text":   s.Text,
			"source": string(s.Source),
			"score":  s.Score,
		})
	}
	return structpb.NewStruct(map[string]any{"suggestions": list})
}

func suggestionsFromStruct(in *structpb.Struct) []schema.Suggestion {
	values := in.GetFields()["suggestions"].GetListValue().GetValues()
	out := make([]schema.Suggestion, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		out = append(out, schema.Suggestion{
			Text:   f["text"].GetStringValue(),
			Source: schema.SuggestionSource(f["source"].GetStringValue()),
			Score:  int(f["score"].GetNumberValue()),
		})
	}
	return out
}

func decodeData(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64: %v", schema.ErrInvalidRequest, err)
	}
	return data, nil
}
