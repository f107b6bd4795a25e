package api

import (
	"context"

	"github.com/alexcatdad/nicd/internal/wire"
)

// Message keys shared by commands and snapshots.
const (
	KeyTCPListenPort      = "tcp_listen_port"
	KeyRefreshTimerPeriod = "refresh_timer_period"
	KeyResolverCacheSize  = "resolver_cache_size"
	KeyResolverPool       = "resolver_pool"
	KeyResolverCache      = "resolver_cache"
	KeyBootstrapT1List    = "bootstrap_t1_list"
	KeyBootstrapDomains   = "bootstrap_domains"
	KeySystemText         = "system_text"
	KeyJournalText        = "journal_text"
	KeyAsyncMessage       = "async_message"
	KeyUpdateDNS          = "update_dns"
)

// Notices reported to clients in async_message.
const (
	NoticeSettingsApplied = "Settings Applied"
	NoticeSettingsFailed  = "There was a problem saving settings"
	NoticeT1Saved         = "Bootstrap T1 List Saved"
	NoticeT1Failed        = "There was a problem saving the T1 bootstrap list"
	NoticeDomainsSaved    = "Domain List Saved"
	NoticeDomainsFailed   = "There was a problem saving the domains list"
)

// HandleMessage applies the keys of msg in sorted order, persists settings
// and, if any key produced a notice, broadcasts a snapshot right away.
// Unknown keys are ignored.
func (s *Server) HandleMessage(ctx context.Context, sess *Session, msg wire.Message) {
	s.notice = ""
	log := s.logger.With().Str("session", sess.ID).Logger()
	log.Debug().Strs("keys", msg.Keys()).Msg("message received")

	for _, key := range msg.Keys() {
		switch key {
		case KeyResolverCacheSize:
			n, ok := msg.Int(key)
			if !ok {
				log.Warn().Str("key", key).Msg("expected an integer")
				continue
			}
			if n != s.backend.ResolverCacheSize() {
				s.notice = NoticeSettingsApplied
			}
			s.backend.SetResolverCacheSize(ctx, n)

		case KeyRefreshTimerPeriod:
			n, ok := msg.Int(key)
			if !ok {
				log.Warn().Str("key", key).Msg("expected an integer")
				continue
			}
			if n != s.backend.RefreshPeriod() {
				s.notice = NoticeSettingsApplied
			}
			s.backend.SetRefreshPeriod(n)

		case KeyBootstrapT1List:
			s.notice = NoticeT1Saved
			list, ok := msg.Strings(key)
			if !ok {
				s.notice = NoticeT1Failed
				log.Warn().Str("key", key).Msg("expected a string list")
			} else if err := s.backend.SaveTier1(list); err != nil {
				s.notice = NoticeT1Failed
				log.Warn().Err(err).Msg("saving tier-1 list")
			}

		case KeyBootstrapDomains:
			s.notice = NoticeDomainsSaved
			list, ok := msg.Strings(key)
			if !ok {
				s.notice = NoticeDomainsFailed
				log.Warn().Str("key", key).Msg("expected a string list")
			} else if err := s.backend.SaveTestDomains(list); err != nil {
				s.notice = NoticeDomainsFailed
				log.Warn().Err(err).Msg("saving test domains")
			}

		case KeyUpdateDNS:
			s.backend.UpdateDNS(ctx)

		default:
			log.Debug().Str("key", key).Msg("ignoring unknown key")
		}
	}

	if err := s.backend.SaveSettings(); err != nil {
		s.notice = NoticeSettingsFailed
		log.Error().Err(err).Msg("saving settings")
	}
	if s.notice != "" {
		s.Broadcast(ctx)
	}
}

func (s *Server) snapshot(ctx context.Context) wire.Message {
	st := s.backend.Status(ctx)
	return wire.Message{
		KeyTCPListenPort:      st.ListenPort,
		KeyRefreshTimerPeriod: st.RefreshPeriod,
		KeyResolverCacheSize:  st.ResolverCacheSize,
		KeyResolverPool:       nonNil(st.Pool),
		KeyResolverCache:      nonNil(st.Cache),
		KeyBootstrapT1List:    nonNil(st.Tier1),
		KeyBootstrapDomains:   nonNil(st.Domains),
		KeySystemText:         st.SystemText,
		KeyJournalText:        nonNil(s.journal.Lines()),
		KeyAsyncMessage:       s.notice,
	}
}

// nonNil keeps empty lists encoded as arrays rather than CBOR null.
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
