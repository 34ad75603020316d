package mongo

import (
	"errors"
	"fmt"

	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"go.mongodb.org/mongo-driver/mongo"
)

const writeConflictCode = 112

// translateTxError maps aborts caused by concurrent writers to
// queue.ErrTransactionConflict and leaves every other error untouched.
func translateTxError(err error) error {
	if err == nil || errors.Is(err, queue.ErrTransactionConflict) {
		return err
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", queue.ErrTransactionConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorLabel("TransientTransactionError") ||
		se.HasErrorLabel("UnknownTransactionCommitResult") ||
		se.HasErrorCode(writeConflictCode)
}
