package mockapi

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Account is a mock backend user.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	FirstName    string
	LastName     string
	Role         string
	Groups       []string
}

// AddAccount creates an account with a bcrypt-hashed password and returns
// its assigned ID. Re-adding an existing username replaces it.
func (s *Server) AddAccount(account Account, password string) (int64, error) {
	if account.Username == "" {
		return 0, errors.New("[Server.AddAccount] username is required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return 0, errors.Wrap(err, "[Server.AddAccount] hash password")
	}
	account.PasswordHash = hash

	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == 0 {
		account.ID = s.nextID
		s.nextID++
	}
	s.accounts[account.Username] = &account
	return account.ID, nil
}

// SeedAccounts populates the conventional development user set.
func (s *Server) SeedAccounts() error {
	seeds := []struct {
		account  Account
		password string
	}{
		{Account{Username: "doc1", Email: "doc1@hospital.test", FirstName: "Dana", LastName: "Osei", Role: "DOCTOR", Groups: []string{"cardiology"}}, "doctorpass"},
		{Account{Username: "nurse1", Email: "nurse1@hospital.test", FirstName: "Noor", LastName: "Khan", Role: "NURSE", Groups: []string{"ward-3"}}, "nursepass"},
		{Account{Username: "admin", Email: "admin@hospital.test", FirstName: "Alex", LastName: "Reyes", Role: "ADMIN"}, "adminpass"},
	}
	for _, seed := range seeds {
		if _, err := s.AddAccount(seed.account, seed.password); err != nil {
			return err
		}
	}
	return nil
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a candidate password against a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
