package pgx

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errStopQuery = errors.New("stop")

// recordingQuerier records statements and fails the first query.
type recordingQuerier struct {
	statements []string
}

func (r *recordingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (r *recordingQuerier) Query(_ context.Context, sql string, _ ...any) (pgxv5.Rows, error) {
	r.statements = append(r.statements, sql)
	return nil, errStopQuery
}

func (r *recordingQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgxv5.Row {
	r.statements = append(r.statements, sql)
	return nil
}

func TestCheckParentLocksHierarchyBeforeReadingChain(t *testing.T) {
	tests := []struct {
		name     string
		parentID string
		want     []string
		wantErr  error
	}{
		{name: "no parent", parentID: "", want: nil},
		{name: "reparent", parentID: "p1", want: []string{hierarchyLockSQL, parentChainSQL}, wantErr: errStopQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQuerier{}
			err := checkParent(context.Background(), q, "e1", tt.parentID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("checkParent() error = %v, want %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(q.statements, tt.want) {
				t.Fatalf("statements = %q, want %q", q.statements, tt.want)
			}
		})
	}
	if !strings.Contains(hierarchyLockSQL, "pg_advisory_xact_lock") {
		t.Fatalf("hierarchy lock must be transaction scoped: %s", hierarchyLockSQL)
	}
}
