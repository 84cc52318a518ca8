package main

import (
	"sync"
	"time"
)

// GPSStaleAfter is how long without a valid fix before the GPS is reported failed
const GPSStaleAfter = 10 * time.Second

type GPSFix struct {
	Valid     bool
	Latitude  float64
	Longitude float64
	Speed     float64 // km/h
	Time      time.Time
}

type MotionSample struct {
	X, Y, Z float64 // g
}

// Sensors keeps the latest GPS and IMU readings published by their services
type Sensors struct {
	log *LeveledLogger
	mu  sync.RWMutex

	gps        GPSFix
	lastFix    time.Time
	imu        MotionSample
	lastMotion time.Time
}

func NewSensors(logger *LeveledLogger, now time.Time) *Sensors {
	// A missing fix only counts as a failure once the receiver has had time to start
	return &Sensors{
		log:     logger,
		lastFix: now,
	}
}

func (s *Sensors) UpdateGPS(fix GPSFix, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fix.Valid && !s.gps.Valid {
		s.log.Info("GPS fix established (%.5f, %.5f)", fix.Latitude, fix.Longitude)
	} else if !fix.Valid && s.gps.Valid {
		s.log.Warn("GPS fix lost")
	}

	s.gps = fix
	if fix.Valid {
		s.lastFix = now
	}
}

func (s *Sensors) UpdateIMU(sample MotionSample, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.imu = sample
	s.lastMotion = now
}

func (s *Sensors) GPS() GPSFix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gps
}

func (s *Sensors) IMU() MotionSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imu
}

// GPSHealthy reports whether a valid fix arrived within GPSStaleAfter
func (s *Sensors) GPSHealthy(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastFix) <= GPSStaleAfter
}
