package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const walletContextKey = "Wallet"

var errBadSignature = errors.New("signature does not match address")

// WalletClaims represents JWT claims for a signed-in wallet.
type WalletClaims struct {
	Address string `json:"addr"`
	jwt.RegisteredClaims
}

func generateToken(addr common.Address, secret string, expiresAt time.Time) (string, error) {
	claims := WalletClaims{
		Address: addr.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (common.Address, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &WalletClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return common.Address{}, err
	}
	claims, ok := token.Claims.(*WalletClaims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.Address) {
		return common.Address{}, errors.New("invalid token claims")
	}
	return common.HexToAddress(claims.Address), nil
}

// loginMessage is the text a wallet signs with personal_sign.
func loginMessage(addr common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to twap-core\n\nAddress: %s\nNonce: %s", addr.Hex(), nonce)
}

// verifySignature checks an EIP-191 personal_sign signature over msg.
func verifySignature(addr common.Address, msg, sigHex string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	// Wallets return V as 27/28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != addr {
		return errBadSignature
	}
	return nil
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		addr, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(walletContextKey, addr)
		c.Next()
	}
}

// CurrentWallet returns the authenticated wallet address from context.
func CurrentWallet(c *gin.Context) common.Address {
	if v, ok := c.Get(walletContextKey); ok {
		if addr, okCast := v.(common.Address); okCast {
			return addr
		}
	}
	return common.Address{}
}

// issueNonce hands out a one-time message for the wallet to sign.
func (s *Server) issueNonce(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Address) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "a hex wallet address is required")
		return
	}
	addr := common.HexToAddress(req.Address)
	nonce := uuid.NewString()
	msg := loginMessage(addr, nonce)
	s.nonces.Set(nonceKey(addr), msg)

	c.JSON(http.StatusOK, gin.H{
		"nonce":   nonce,
		"message": msg,
	})
}

// login exchanges a signed nonce message for a JWT.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Address) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "address and signature are required")
		return
	}
	addr := common.HexToAddress(req.Address)

	// Take consumes the nonce so a captured signature cannot be replayed.
	msg, ok := s.nonces.Take(nonceKey(addr))
	if !ok {
		respondError(c, http.StatusUnauthorized, "NONCE_EXPIRED", "request a new nonce first")
		return
	}
	if err := verifySignature(addr, msg, req.Signature); err != nil {
		log.Warn().Err(err).Str("address", addr.Hex()).Msg("login signature rejected")
		respondError(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
		return
	}

	expiresAt := time.Now().Add(s.jwtTTL)
	token, err := generateToken(addr, s.jwtSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"address":    addr.Hex(),
	})
}

func nonceKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
