package ledger

import (
	"fmt"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

// validateSingleLeg runs the credit/debit checks that follow customer
// resolution, in the order callers observe them.
func validateSingleLeg(txType domain.TransactionType, amount int64, customer *domain.Customer, acct *domain.Account) error {
	if amount <= 0 {
		return fmt.Errorf("validateSingleLeg: %w", domain.ErrInvalidAmount)
	}

	if err := verifyAccountActive(acct, "customer"); err != nil {
		return fmt.Errorf("validateSingleLeg: %w", err)
	}

	if !txType.IsCredit() && customer.Balance < amount {
		return fmt.Errorf("validateSingleLeg: %w", domain.ErrInsufficientFunds)
	}

	return nil
}

func validateTransfer(amount int64, sender, receiver *domain.Customer, senderAcct, receiverAcct *domain.Account) error {
	if amount <= 0 {
		return fmt.Errorf("validateTransfer: %w", domain.ErrInvalidAmount)
	}

	if sender.ID == receiver.ID {
		return fmt.Errorf("validateTransfer: %w", domain.ErrSelfTransfer)
	}

	if err := verifyAccountActive(senderAcct, "sender"); err != nil {
		return fmt.Errorf("validateTransfer: %w", err)
	}
	if err := verifyAccountActive(receiverAcct, "receiver"); err != nil {
		return fmt.Errorf("validateTransfer: %w", err)
	}

	if sender.Balance < amount {
		return fmt.Errorf("validateTransfer: %w", domain.ErrInsufficientFunds)
	}

	return nil
}

func verifyAccountActive(acct *domain.Account, role string) error {
	if acct.Status != domain.AccountStatusActive {
		return fmt.Errorf("%s: %w", role, domain.ErrAccountClosed)
	}
	return nil
}
