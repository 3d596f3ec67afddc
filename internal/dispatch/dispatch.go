package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"wingmem/internal/logging"
	"wingmem/internal/memory"
)

// Dispatcher routes decoded wire calls to the memory engine.
type Dispatcher struct {
	store *memory.Store

	mu sync.Mutex // serializes writes to the output stream in Serve
}

// New creates a dispatcher over an open store.
func New(store *memory.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Handle executes one request and always returns a well-formed response;
// engine failures become coded wire errors, never Go errors.
func (d *Dispatcher) Handle(req Request) Response {
	timer := logging.StartTimer(logging.CategoryDispatch, "Handle:"+req.Method)
	defer timer.Stop()

	result, err := d.route(req)
	if err != nil {
		logging.DispatchDebug("Method %s failed: %v", req.Method, err)
		return Response{ID: req.ID, OK: false, Error: wireError(err)}
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

// Serve reads JSON-line requests until EOF or context cancellation,
// writing one response line per request. Malformed lines get an error
// response rather than terminating the stream.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	logging.Dispatch("Dispatch loop started")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			d.writeResponse(w, Response{
				OK:    false,
				Error: &WireError{Code: CodeBadRequest, Message: "malformed request: " + err.Error()},
			})
			continue
		}

		d.writeResponse(w, d.Handle(req))
	}

	if err := scanner.Err(); err != nil {
		logging.Get(logging.CategoryDispatch).Error("Dispatch read failed: %v", err)
		return err
	}
	logging.Dispatch("Dispatch loop finished")
	return nil
}

func (d *Dispatcher) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		// Marshal failure on our own types means a programming error; emit
		// a minimal diagnostic line so the stream stays parseable.
		data = []byte(`{"ok":false,"error":{"code":"storage_error","message":"response encoding failed"}}`)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = w.Write(append(data, '\n'))
}

func (d *Dispatcher) route(req Request) (interface{}, error) {
	switch req.Method {
	case MethodStore:
		var p StoreParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := d.store.StoreAtom(p.AtomInput)
		if err != nil {
			return nil, err
		}
		return StoreResult{AtomID: id}, nil

	case MethodBatchStore:
		var p BatchStoreParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		ids, err := d.store.BatchStoreAtoms(p.Atoms)
		if err != nil {
			return nil, err
		}
		return BatchStoreResult{AtomIDs: ids}, nil

	case MethodAddReference:
		var p AddReferenceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := d.store.AddReference(p.AtomID, p.RefType, p.Target, p.Strength); err != nil {
			return nil, err
		}
		return map[string]bool{"added": true}, nil

	case MethodGetAtom:
		var p GetAtomParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		atom, err := d.store.GetAtom(p.AtomID)
		if err != nil {
			return nil, err
		}
		return atomView(atom), nil

	case MethodCreateContext:
		var p CreateContextParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := d.store.CreateContext(p.AtomID, p.ContextType, p.InitialWeight)
		if err != nil {
			return nil, err
		}
		return CreateContextResult{ContextID: id}, nil

	case MethodAdjust:
		var p AdjustParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := d.store.Adjust(p.ContextID, p.AdjustmentType, p.Value, p.Reason); err != nil {
			return nil, err
		}
		return map[string]bool{"adjusted": true}, nil

	case MethodCreateChain:
		var p CreateChainParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := d.store.CreateChain(p.Name, p.ChainType, p.MemberIDs)
		if err != nil {
			return nil, err
		}
		return CreateChainResult{ChainID: id}, nil

	case MethodValidate:
		var p ValidateParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		v, err := d.store.ValidateChain(p.ChainID)
		if err != nil {
			return nil, err
		}
		return ValidateResult{
			ChainID:      v.ChainID,
			Score:        v.Score(),
			Coherence:    v.Coherence,
			Completeness: v.Completeness,
			Accuracy:     v.Accuracy,
			MemberCount:  v.MemberCount,
		}, nil

	case MethodRefactor:
		var p RefactorParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		record, err := d.store.RefactorChain(p.ChainID, p.Kind)
		if err != nil {
			return nil, err
		}
		return RefactorResult{
			ChainID:      record.ChainID,
			Kind:         record.Kind,
			MembersAfter: len(record.After),
			ScoreBefore:  record.ScoreBefore,
			ScoreAfter:   record.ScoreAfter,
			Improvement:  record.Improvement,
		}, nil

	case MethodQuery:
		var p QueryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		results, err := d.store.Query(p.Text, memory.QueryOptions{Layers: p.Layers, Limit: p.Limit})
		if err != nil {
			return nil, err
		}
		return queryResponse(results), nil

	case MethodStats:
		stats, err := d.store.EngineStats(0)
		if err != nil {
			return nil, err
		}
		return stats, nil

	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, req.Method)
	}
}

// errUnknownMethod marks calls to methods outside the protocol surface.
var errUnknownMethod = fmt.Errorf("unknown method")

func decodeParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", errBadParams)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}
	return nil
}

var errBadParams = fmt.Errorf("bad params")

// wireError maps engine errors onto the protocol's stable error codes.
func wireError(err error) *WireError {
	switch {
	case memory.IsValidation(err):
		return &WireError{Code: CodeValidation, Message: err.Error()}
	case memory.IsNotFound(err):
		return &WireError{Code: CodeNotFound, Message: err.Error()}
	case memory.IsStorage(err):
		return &WireError{Code: CodeStorage, Message: err.Error()}
	default:
		return &WireError{Code: CodeBadRequest, Message: err.Error()}
	}
}

func atomView(a *memory.Atom) AtomView {
	return AtomView{
		ID:          a.ID,
		ContentHash: a.ContentHash,
		Type:        a.Type,
		WingPath:    a.WingPath,
		Weight:      a.Weight,
		Tags:        a.Tags,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func queryResponse(results []memory.QueryResult) QueryResponse {
	out := QueryResponse{Results: make([]QueryResultView, 0, len(results))}
	for _, r := range results {
		view := QueryResultView{Atom: atomView(&r.Atom)}
		for _, c := range r.Contexts {
			view.Contexts = append(view.Contexts, ContextView{
				ID:             c.ID,
				ContextType:    c.ContextType,
				AdjustedWeight: c.AdjustedWeight,
				Confidence:     c.Confidence,
				AccessCount:    c.AccessCount,
			})
		}
		for _, m := range r.Memberships {
			view.Memberships = append(view.Memberships, MembershipView{
				ChainID:         m.ChainID,
				ChainName:       m.ChainName,
				ChainType:       m.ChainType,
				ValidationScore: m.ValidationScore,
				Position:        m.Position,
				Role:            m.Role,
			})
		}
		out.Results = append(out.Results, view)
	}
	out.Count = len(out.Results)
	return out
}
