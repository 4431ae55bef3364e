package worker

import "github.com/rs/zerolog/log"

var logger = log.With().Str("component", "worker").Logger()
