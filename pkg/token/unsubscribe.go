package token

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const unsubscribePurpose = "unsubscribe"

var ErrInvalidToken = errors.New("invalid unsubscribe token")

// UnsubscribeClaims identify the contact a footer link opts out.
type UnsubscribeClaims struct {
	OwnerID    int64  `json:"own"`
	CampaignID int64  `json:"cmp"`
	Purpose    string `json:"pur"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// GenerateUnsubscribeToken signs a non-expiring token. Links keep working for as long
// as the message text survives on a handset.
func (s *Service) GenerateUnsubscribeToken(contactID, ownerID, campaignID int64) (string, error) {
	claims := UnsubscribeClaims{
		OwnerID:    ownerID,
		CampaignID: campaignID,
		Purpose:    unsubscribePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: strconv.FormatInt(contactID, 10),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and returns the contact id plus claims.
func (s *Service) Parse(tokenString string) (int64, *UnsubscribeClaims, error) {
	claims := &UnsubscribeClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected method: %s", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != unsubscribePurpose {
		return 0, nil, fmt.Errorf("%w: wrong purpose %q", ErrInvalidToken, claims.Purpose)
	}

	contactID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return contactID, claims, nil
}
