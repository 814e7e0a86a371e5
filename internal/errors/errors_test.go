package errors

import (
	"errors"
	"testing"
)

func TestErrorFormatsWithAndWithoutDetail(t *testing.T) {
	bare := New(InternalError, "something went wrong")
	if got, want := bare.Error(), "something went wrong (SQLSTATE XX000)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withDetail := New(InternalError, "something went wrong").WithDetail("slot 3 out of range")
	if got, want := withDetail.Error(), "something went wrong (SQLSTATE XX000): slot 3 out of range"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWithHintAndDetailfChain(t *testing.T) {
	err := Newf(SerializationFailure, "conflict on slot %d", 7).
		WithDetailf("txn %d lost the CAS", 42).
		WithHint("retry the transaction")

	if err.Detail != "txn 42 lost the CAS" {
		t.Errorf("Detail = %q, want %q", err.Detail, "txn 42 lost the CAS")
	}
	if err.Hint != "retry the transaction" {
		t.Errorf("Hint = %q, want %q", err.Hint, "retry the transaction")
	}
	if err.Message != "conflict on slot 7" {
		t.Errorf("Message = %q, want %q", err.Message, "conflict on slot 7")
	}
}

func TestIsError(t *testing.T) {
	err := InvalidTransactionStateError("already finalized")
	if !IsError(err, TransactionRollback) {
		t.Error("expected IsError to match TransactionRollback code")
	}
	if IsError(err, InternalError) {
		t.Error("expected IsError to reject a mismatched code")
	}
	if IsError(nil, TransactionRollback) {
		t.Error("expected IsError(nil, ...) to be false")
	}
}

func TestGetErrorWrapsPlainErrors(t *testing.T) {
	qerr := OutOfMemoryError("undo segment pool")
	if got := GetError(qerr); got != qerr {
		t.Errorf("GetError on an *Error should return it unchanged, got %v", got)
	}

	plain := errors.New("boom")
	wrapped := GetError(plain)
	if wrapped == nil || wrapped.Code != InternalError {
		t.Fatalf("GetError on a plain error should wrap it as InternalError, got %v", wrapped)
	}

	if GetError(nil) != nil {
		t.Error("GetError(nil) should be nil")
	}
}

func TestCategoryConstructorsSetExpectedCodes(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		code string
	}{
		{"SerializationError", SerializationError("slot 1"), SerializationFailure},
		{"RollbackProtocolViolationError", RollbackProtocolViolationError("slot 1, txn 2"), ProtocolViolation},
		{"WALCorruptionError", WALCorruptionError("checksum mismatch"), DataCorrupted},
		{"FileIOError", FileIOError("open", "0000000000000001.wal", errors.New("permission denied")), IOError},
		{"DiskSpaceError", DiskSpaceError("write to WAL segment"), DiskFull},
		{"CheckpointFailedError", CheckpointFailedError("wal manager closed"), IOError},
		{"InvalidTransactionStateError", InvalidTransactionStateError("already finalized"), TransactionRollback},
		{"OutOfMemoryError", OutOfMemoryError("redo segment pool"), OutOfMemory},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("%s code = %q, want %q", tc.name, tc.err.Code, tc.code)
			}
			if tc.err.Message == "" {
				t.Errorf("%s produced an empty message", tc.name)
			}
		})
	}
}
